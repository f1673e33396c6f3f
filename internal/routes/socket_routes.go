package routes

import (
	"taskboard/internal/models"
	"taskboard/internal/services"
)

// BuildSocketRoutes assembles the socket route table once at startup: the
// generated entity routes plus the hand-written ones.
func BuildSocketRoutes(
	entities *services.EntityService,
	tasks *services.TaskService,
	notifications *services.NotificationService,
) map[string]models.Handler {
	table := entities.Routes()
	table["GET /project/tasks"] = tasks.ListHandler
	table["PUT /task/position"] = tasks.PositionHandler
	table["GET /notifications"] = notifications.ListHandler
	return table
}
