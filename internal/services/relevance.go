package services

import "taskboard/internal/models"

var filterableJoins = map[string]bool{
	"task_project": true,
	"task_tag":     true,
	"task_person":  true,
}

// IsFilterRelevant reports whether a change can move a task in or out of a
// filtered view, in which case clients need a fresh task snapshot.
func IsFilterRelevant(entityID, property string, value any) bool {
	if filterableJoins[entityID] {
		return true
	}
	switch entityID {
	case "task":
		return property == "state"
	case "blocker":
		// a blocker can start matching "my work" when its text mentions
		// someone, or when it is reopened or undeleted
		switch property {
		case "description":
			return true
		case "resolved":
			return !truthy(value)
		case "delete_date":
			return value == nil
		}
	}
	return false
}

func needsSnapshot(c *models.Change) bool {
	if c.ChangeType == models.ChangeCreate && c.EntityID == "task" {
		return true
	}
	return IsFilterRelevant(c.EntityID, c.PropertyName, c.NewValue)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	}
	return true
}
