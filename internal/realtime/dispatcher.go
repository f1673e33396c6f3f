package realtime

import (
	"encoding/json"
	"sort"

	"github.com/golang/glog"

	"taskboard/internal/models"
)

// Dispatcher fans changes out to the registry.
type Dispatcher struct {
	registry *Registry
}

func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Broadcast sends exactly one message per live connection: followers in
// recipients (person id -> notification id) get the notification variant,
// everyone else the plain change. Each payload is encoded once. It returns
// the recipients that had no connection.
func (d *Dispatcher) Broadcast(change *models.ChangeMessage, notification *models.NotificationMessage, recipients map[int64]int64) []int64 {
	base, err := json.Marshal(change)
	if err != nil {
		glog.Errorf("[ws] encode change for task %d: %v", change.TaskID, err)
		return nil
	}

	perUser := make(map[int64][]byte, len(recipients))
	reached := make(map[int64]bool, len(recipients))
	sent := 0

	d.registry.ForEach(func(connID string, conn Sender, userID int64) {
		payload := base
		if notificationID, ok := recipients[userID]; ok {
			payload, ok = perUser[userID]
			if !ok {
				n := *notification
				n.NotificationID = notificationID
				payload, err = json.Marshal(&n)
				if err != nil {
					glog.Errorf("[ws] encode notification %d: %v", notificationID, err)
					payload = base
				}
				perUser[userID] = payload
			}
			reached[userID] = true
		}
		if err := conn.Send(payload); err != nil {
			glog.Warningf("[ws] send to conn %s (user %d): %v", connID, userID, err)
			return
		}
		sent++
	})
	glog.V(2).Infof("[ws] change %s %s #%d sent to %d connections", change.ChangeType, change.EntityID, change.TargetID, sent)

	var offline []int64
	for userID := range recipients {
		if !reached[userID] {
			offline = append(offline, userID)
		}
	}
	sort.Slice(offline, func(i, j int) bool { return offline[i] < offline[j] })
	return offline
}
