package models

import (
	"encoding/json"
	"time"
)

type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Change is one row of the append-only change log.
type Change struct {
	ID           int64
	ChangeType   ChangeType
	ActorID      int64
	EntityID     string
	TargetID     int64
	TaskID       int64
	PropertyName string
	NewValue     any
	CreateDate   time.Time
}

// ChangeMessage is pushed to every live connection.
type ChangeMessage struct {
	Type         string       `json:"type"`
	ChangeType   ChangeType   `json:"change_type"`
	EntityID     string       `json:"entity_id"`
	TargetID     int64        `json:"target_id"`
	TaskID       int64        `json:"task_id"`
	PropertyName string       `json:"property_name,omitempty"`
	NewValue     any          `json:"new_value"`
	ShallowTask  *ShallowTask `json:"shallow_task,omitempty"`
}

// NotificationMessage is the variant sent to the task's followers.
type NotificationMessage struct {
	ChangeMessage
	IsNotification bool      `json:"is_notification"`
	IsRead         bool      `json:"is_read"`
	ActorID        int64     `json:"actor_id"`
	Timestamp      time.Time `json:"timestamp"`
	TaskName       string    `json:"task_name"`
	ProjectIDs     []int64   `json:"project_ids"`
	NotificationID int64     `json:"notification_id,omitempty"`
}

// ChangeValue is a stored new_value. Values written before the column was
// JSON-encoded are kept as raw text.
type ChangeValue struct {
	Raw     string
	Decoded any
	IsRaw   bool
}

// DecodeChangeValue parses a stored value. On failure the raw text is kept
// and the decode error returned so the caller can log it.
func DecodeChangeValue(raw *string) (ChangeValue, error) {
	if raw == nil {
		return ChangeValue{}, nil
	}
	var v any
	if err := json.Unmarshal([]byte(*raw), &v); err != nil {
		return ChangeValue{Raw: *raw, IsRaw: true}, err
	}
	return ChangeValue{Raw: *raw, Decoded: v}, nil
}

func (v ChangeValue) MarshalJSON() ([]byte, error) {
	if v.IsRaw {
		return json.Marshal(v.Raw)
	}
	return json.Marshal(v.Decoded)
}

// NotificationView is a notification joined with its change, as listed by
// GET /notifications.
type NotificationView struct {
	ID           int64       `json:"notification_id"`
	IsRead       bool        `json:"is_read"`
	ChangeID     int64       `json:"change_id"`
	ChangeType   ChangeType  `json:"change_type"`
	ActorID      int64       `json:"actor_id"`
	EntityID     string      `json:"entity_id"`
	TargetID     int64       `json:"target_id"`
	TaskID       int64       `json:"task_id"`
	TaskName     string      `json:"task_name"`
	PropertyName string      `json:"property_name,omitempty"`
	NewValue     ChangeValue `json:"new_value"`
	Timestamp    time.Time   `json:"timestamp"`

	RawValue *string `json:"-"`
}

func (n NotificationView) Raw() string {
	if n.RawValue == nil {
		return ""
	}
	return *n.RawValue
}
