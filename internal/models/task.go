// internal/models/task.go
package models

import "time"

// ShallowTask is the summarized task sent with filter-relevant changes and
// returned by GET /project/tasks.
type ShallowTask struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	State        string     `json:"state"`
	CreateDate   time.Time  `json:"create_date"`
	AcceptDate   *time.Time `json:"accept_date"`
	DeleteDate   *time.Time `json:"delete_date"`
	ProjectIDs   []int64    `json:"project_ids"`
	TagIDs       []int64    `json:"tag_ids"`
	PersonIDs    []int64    `json:"person_ids"`
	OpenBlockers []string   `json:"open_blockers"`
}

// TaskFilter defines the available parameters for filtering tasks.
type TaskFilter struct {
	ProjectID *int64
	TaskID    *int64
	Offset    int
	Limit     int
}

// ProjectPosition is a task's place inside one project.
type ProjectPosition struct {
	ProjectID int64
	Position  int
}

// PositionInput moves a task within a project's ordering. Exactly one of
// ToPos or PosForState decides the target.
type PositionInput struct {
	ProjectID        int64
	TaskID           int64
	AlreadyInProject bool
	PosForState      string
	FromPos          *int
	ToPos            *int
}

// TaskAudience is everything the change recorder needs to address a
// notification, read in one query.
type TaskAudience struct {
	TaskName    string
	FollowerIDs []int64
	ProjectIDs  []int64
}
