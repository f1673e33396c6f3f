package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"taskboard/internal/models"
)

func TestIsFilterRelevant(t *testing.T) {
	tests := []struct {
		name     string
		entity   string
		property string
		value    any
		want     bool
	}{
		{"project membership", "task_project", "", nil, true},
		{"tag membership", "task_tag", "", nil, true},
		{"person membership", "task_person", "", nil, true},
		{"requester is not filterable", "task_requester", "", nil, false},
		{"task state", "task", "state", "started", true},
		{"task name", "task", "name", "x", false},
		{"blocker description", "blocker", "description", "@ann look", true},
		{"blocker reopened", "blocker", "resolved", false, true},
		{"blocker resolved", "blocker", "resolved", true, false},
		{"blocker undeleted", "blocker", "delete_date", nil, true},
		{"blocker deleted", "blocker", "delete_date", "2024-01-01T00:00:00Z", false},
		{"comment text", "comment", "text", "hi", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFilterRelevant(tt.entity, tt.property, tt.value))
		})
	}
}

func TestNeedsSnapshotForTaskCreate(t *testing.T) {
	assert.True(t, needsSnapshot(&models.Change{ChangeType: models.ChangeCreate, EntityID: "task"}))
	assert.False(t, needsSnapshot(&models.Change{ChangeType: models.ChangeCreate, EntityID: "comment"}))
	assert.False(t, needsSnapshot(&models.Change{ChangeType: models.ChangeUpdate, EntityID: "task", PropertyName: "name"}))
}
