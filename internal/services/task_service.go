// internal/services/task_service.go
package services

import (
	"context"

	"taskboard/internal/models"
	"taskboard/internal/repositories"
)

const defaultPageSize = 100

// TaskService answers read-side task queries and moves tasks inside projects.
type TaskService struct {
	repo    repositories.TaskRepository
	changes ChangeRecorder
}

// NewTaskService creates a new instance of TaskService. The recorder can be
// attached later with SetRecorder since the recorder itself reads
// snapshots through this service.
func NewTaskService(repo repositories.TaskRepository) *TaskService {
	return &TaskService{repo: repo}
}

func (s *TaskService) SetRecorder(changes ChangeRecorder) {
	s.changes = changes
}

// ShallowTask returns nil, nil when the task is not visible yet.
func (s *TaskService) ShallowTask(ctx context.Context, taskID int64) (*models.ShallowTask, error) {
	tasks, _, err := s.repo.FindShallow(ctx, models.TaskFilter{TaskID: &taskID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return &tasks[0], nil
}

func (s *TaskService) List(ctx context.Context, filter models.TaskFilter) ([]models.ShallowTask, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	tasks, total, err := s.repo.FindShallow(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	if tasks == nil {
		tasks = []models.ShallowTask{}
	}
	return tasks, total, nil
}

// Move repositions a task in a project and records the new position as a
// change of the task_project record.
func (s *TaskService) Move(ctx context.Context, actorID int64, in models.PositionInput) (int, error) {
	pos, err := s.repo.MovePosition(ctx, in)
	if err != nil {
		return 0, err
	}
	if s.changes != nil {
		if _, err := s.changes.Record(ctx, ChangeInput{
			ActorID:    actorID,
			ChangeType: models.ChangeUpdate,
			EntityID:   "task_project",
			TargetID:   in.ProjectID,
			TaskID:     in.TaskID,
			Property:   "position",
			Value:      pos,
		}); err != nil {
			return 0, err
		}
	}
	return pos, nil
}

// ListHandler serves GET /project/tasks.
func (s *TaskService) ListHandler(ctx context.Context, req *models.Request) (any, error) {
	var filter models.TaskFilter
	if id, ok := req.Int64("project_id"); ok {
		filter.ProjectID = &id
	}
	if id, ok := req.Int64("task_id"); ok {
		filter.TaskID = &id
	}
	if n, ok := req.Int64("offset"); ok {
		filter.Offset = int(n)
	}
	if n, ok := req.Int64("limit"); ok {
		filter.Limit = int(n)
	}

	tasks, total, err := s.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return map[string]any{"data": tasks, "total": total, "offset": filter.Offset}, nil
}

// PositionHandler serves PUT /task/position.
func (s *TaskService) PositionHandler(ctx context.Context, req *models.Request) (any, error) {
	var missing []string
	projectID, ok := req.Int64("project_id")
	if !ok {
		missing = append(missing, "project_id")
	}
	taskID, ok := req.Int64("task_id")
	if !ok {
		missing = append(missing, "task_id")
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Kind: ErrMissingKey, Entity: "task_project", Names: missing}
	}

	in := models.PositionInput{ProjectID: projectID, TaskID: taskID}
	if v, ok := req.Value("already_in_project"); ok {
		in.AlreadyInProject = truthy(v)
	}
	if v, ok := req.Value("pos_for_state"); ok {
		in.PosForState, _ = v.(string)
	}
	if n, ok := req.Int64("from_pos"); ok {
		from := int(n)
		in.FromPos = &from
	}
	if n, ok := req.Int64("to_pos"); ok {
		to := int(n)
		in.ToPos = &to
	}
	if in.ToPos == nil && in.PosForState == "" {
		return nil, &ValidationError{Kind: ErrMissingKey, Entity: "task_project", Names: []string{"to_pos"}}
	}

	pos, err := s.Move(ctx, req.ActorID, in)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "data": map[string]any{"position": pos}}, nil
}
