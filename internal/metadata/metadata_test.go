package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "core_properties": [{"name": "id"}, {"name": "create_date"}, {"name": "delete_date"}],
  "states": [{"id": "unscheduled"}, {"id": "unstarted"}, {"id": "started"}, {"id": "review"}, {"id": "accepted"}],
  "entities": [
    {"id": "task", "properties": [{"name": "name"}, {"name": "state"}, {"name": "description"}, {"name": "accept_date"}]},
    {"id": "comment", "properties": [{"name": "task_id"}, {"name": "text"}]},
    {"id": "project", "properties": [{"name": "name"}]},
    {"id": "task_project", "is_join": true, "properties": [{"name": "task_id"}, {"name": "project_id"}, {"name": "position"}]},
    {"id": "token", "is_internal": true, "properties": [{"name": "token_hash"}]}
  ]
}`

func TestParse(t *testing.T) {
	m, err := Parse([]byte(sampleJSON))
	require.NoError(t, err)

	assert.Len(t, m.Entities, 5)
	task, ok := m.Entity("task")
	require.True(t, ok)
	assert.Equal(t, "task", task.ID)

	_, ok = m.Entity("missing")
	assert.False(t, ok)
}

func TestParseRejectsBadJoinName(t *testing.T) {
	_, err := Parse([]byte(`{"entities": [{"id": "task_project_extra", "is_join": true}]}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"entities": [{"id": "task"}, {"id": "task"}]}`))
	assert.Error(t, err)
}

func TestPropertyNames(t *testing.T) {
	m, err := Parse([]byte(sampleJSON))
	require.NoError(t, err)

	task, _ := m.Entity("task")
	names := m.PropertyNames(task)
	assert.True(t, names["state"])
	assert.True(t, names["delete_date"], "regular entities accept core properties")

	join, _ := m.Entity("task_project")
	names = m.PropertyNames(join)
	assert.True(t, names["position"])
	assert.False(t, names["delete_date"], "joins only accept their own properties")
}

func TestEntityClassification(t *testing.T) {
	m, err := Parse([]byte(sampleJSON))
	require.NoError(t, err)

	assert.True(t, m.IsTaskChild("comment"))
	assert.False(t, m.IsTaskChild("task"))
	assert.False(t, m.IsTaskChild("project"))
	assert.False(t, m.IsTaskChild("task_project"))

	join, _ := m.Entity("task_project")
	assert.True(t, join.IsTaskJoin())
	assert.Equal(t, [2]string{"task_id", "project_id"}, join.JoinKeys())
}

func TestIsWorkInProgress(t *testing.T) {
	m, err := Parse([]byte(sampleJSON))
	require.NoError(t, err)

	assert.True(t, m.IsWorkInProgress("started"))
	assert.True(t, m.IsWorkInProgress("review"))
	assert.False(t, m.IsWorkInProgress("unstarted"))
	assert.False(t, m.IsWorkInProgress("unscheduled"))
	assert.False(t, m.IsWorkInProgress("accepted"))
	assert.False(t, m.IsWorkInProgress("bogus"))
	assert.False(t, m.IsWorkInProgress(""))

	empty := &Metadata{}
	assert.True(t, empty.IsWorkInProgress("anything"))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleJSON), 0o600))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, m.States, 5)
}
