package services

import (
	"context"

	"github.com/golang/glog"

	"taskboard/internal/models"
	"taskboard/internal/repositories"
)

type NotificationService struct {
	repo repositories.ChangeRepository
}

func NewNotificationService(repo repositories.ChangeRepository) *NotificationService {
	return &NotificationService{repo: repo}
}

// List returns the person's notifications, newest first. Values stored
// before new_value was JSON-encoded come back raw.
func (s *NotificationService) List(ctx context.Context, personID int64, limit, offset int) ([]models.NotificationView, int, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	rows, total, err := s.repo.ListNotifications(ctx, personID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for i := range rows {
		v, err := models.DecodeChangeValue(rows[i].RawValue)
		if err != nil {
			glog.Warningf("[notification] %s %s (%d) change new_value is not JSON: %q",
				rows[i].EntityID, rows[i].PropertyName, rows[i].TargetID, rows[i].Raw())
		}
		rows[i].NewValue = v
	}
	if rows == nil {
		rows = []models.NotificationView{}
	}
	return rows, total, nil
}

// ListHandler serves GET /notifications.
func (s *NotificationService) ListHandler(ctx context.Context, req *models.Request) (any, error) {
	limit, _ := req.Int64("limit")
	offset, _ := req.Int64("offset")
	rows, total, err := s.List(ctx, req.ActorID, int(limit), int(offset))
	if err != nil {
		return nil, err
	}
	return map[string]any{"data": rows, "total": total, "offset": offset}, nil
}
