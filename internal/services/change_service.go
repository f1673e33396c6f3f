package services

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/golang/glog"

	"taskboard/internal/metadata"
	"taskboard/internal/models"
	"taskboard/internal/repositories"
)

// Broadcaster delivers a change to every live connection and returns the
// recipients that had none.
type Broadcaster interface {
	Broadcast(change *models.ChangeMessage, notification *models.NotificationMessage, recipients map[int64]int64) []int64
}

type SnapshotSource interface {
	ShallowTask(ctx context.Context, taskID int64) (*models.ShallowTask, error)
}

type OfflineNotifier interface {
	NotifyOffline(ctx context.Context, recipients []int64, msg *models.NotificationMessage)
}

// ChangeInput describes one tracked mutation. TaskID is only a hint: it is
// ignored for tasks (the target is the task) and for task children (read
// from the child row).
type ChangeInput struct {
	ActorID    int64
	ChangeType models.ChangeType
	EntityID   string
	TargetID   int64
	TaskID     int64
	Property   string
	Value      any
}

type ChangeService struct {
	repo     repositories.ChangeRepository
	meta     *metadata.Metadata
	tasks    SnapshotSource
	hub      Broadcaster
	notifier OfflineNotifier
	onFatal  func(error)
	now      func() time.Time

	notifyTimeout time.Duration
}

func NewChangeService(repo repositories.ChangeRepository, meta *metadata.Metadata, tasks SnapshotSource, hub Broadcaster) *ChangeService {
	return &ChangeService{
		repo:          repo,
		meta:          meta,
		tasks:         tasks,
		hub:           hub,
		now:           time.Now,
		notifyTimeout: 30 * time.Second,
	}
}

// SetOfflineNotifier enables e-mail/Telegram delivery to followers with no
// live connection.
func (s *ChangeService) SetOfflineNotifier(n OfflineNotifier) {
	s.notifier = n
}

// SetFatalHandler receives panics raised during background delivery.
func (s *ChangeService) SetFatalHandler(fn func(error)) {
	s.onFatal = fn
}

// Record appends the change, creates notifications for the task's
// followers in the same transaction and fans the result out.
func (s *ChangeService) Record(ctx context.Context, in ChangeInput) (*models.Change, error) {
	change := &models.Change{
		ChangeType:   in.ChangeType,
		ActorID:      in.ActorID,
		EntityID:     in.EntityID,
		TargetID:     in.TargetID,
		TaskID:       in.TaskID,
		PropertyName: in.Property,
		NewValue:     in.Value,
		CreateDate:   s.now().UTC(),
	}

	var childTable string
	switch {
	case in.EntityID == metadata.TaskEntity:
		change.TaskID = in.TargetID
	case s.meta.IsTaskChild(in.EntityID):
		childTable = in.EntityID
		change.TaskID = 0
	}

	var (
		audience        *models.TaskAudience
		notificationIDs map[int64]int64
	)
	err := s.repo.WithinTx(ctx, func(store repositories.ChangeStore) error {
		if err := store.InsertChange(ctx, change, childTable); err != nil {
			return err
		}
		// at present, every tracked change should be related to a task
		if change.TaskID == 0 {
			glog.Errorf("[integrity] %s %s #%d (%s) by person %d resolved to no task",
				change.ChangeType, change.EntityID, change.TargetID, change.PropertyName, change.ActorID)
			return fmt.Errorf("%w: %s %s #%d has no task", ErrIntegrity, change.ChangeType, change.EntityID, change.TargetID)
		}

		var err error
		audience, err = store.TaskAudience(ctx, change.TaskID, in.ActorID)
		if err != nil {
			return err
		}
		notificationIDs, err = store.InsertNotifications(ctx, change.ID, excludeID(audience.FollowerIDs, in.ActorID))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, change, audience, notificationIDs)
	return change, nil
}

func (s *ChangeService) publish(ctx context.Context, change *models.Change, audience *models.TaskAudience, notificationIDs map[int64]int64) {
	msg := &models.ChangeMessage{
		Type:         "change",
		ChangeType:   change.ChangeType,
		EntityID:     change.EntityID,
		TargetID:     change.TargetID,
		TaskID:       change.TaskID,
		PropertyName: change.PropertyName,
		NewValue:     change.NewValue,
	}

	if needsSnapshot(change) {
		// during a multi-step task creation the task may not be visible yet
		snap, err := s.tasks.ShallowTask(ctx, change.TaskID)
		if err != nil {
			glog.Warningf("[change] snapshot of task %d failed: %v", change.TaskID, err)
		} else if snap != nil {
			msg.ShallowTask = snap
		}
	}

	projectIDs := audience.ProjectIDs
	if projectIDs == nil {
		projectIDs = []int64{}
	}
	notification := &models.NotificationMessage{
		ChangeMessage:  *msg,
		IsNotification: true,
		IsRead:         false,
		ActorID:        change.ActorID,
		Timestamp:      change.CreateDate,
		TaskName:       audience.TaskName,
		ProjectIDs:     projectIDs,
	}

	offline := s.hub.Broadcast(msg, notification, notificationIDs)
	if len(offline) == 0 || s.notifier == nil {
		return
	}
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				glog.Errorf("[change] panic in offline delivery of change %d: %v\n%s", change.ID, rec, debug.Stack())
				if s.onFatal != nil {
					s.onFatal(fmt.Errorf("panic in offline delivery: %v", rec))
				}
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()
		s.notifier.NotifyOffline(ctx, offline, notification)
	}()
}

func excludeID(ids []int64, id int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
