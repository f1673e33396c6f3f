package services

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskboard/internal/metadata"
	"taskboard/internal/models"
	"taskboard/internal/repositories"
)

const testMetadata = `{
"core_properties": [{"name": "id"}, {"name": "create_date"}, {"name": "delete_date"}],
"states": [{"id": "unscheduled"}, {"id": "unstarted"}, {"id": "started"}, {"id": "finished"}, {"id": "accepted"}],
"entities": [
{"id": "task", "properties": [{"name": "name"}, {"name": "description"}, {"name": "state"}, {"name": "accept_date"}]},
{"id": "comment", "properties": [{"name": "task_id"}, {"name": "text"}]},
{"id": "blocker", "properties": [{"name": "task_id"}, {"name": "description"}, {"name": "resolved"}]},
{"id": "project", "properties": [{"name": "name"}]},
{"id": "task_project", "is_join": true, "properties": [{"name": "task_id"}, {"name": "project_id"}, {"name": "position"}]},
{"id": "task_tag", "is_join": true, "properties": [{"name": "task_id"}, {"name": "tag_id"}]},
{"id": "task_person", "is_join": true, "properties": [{"name": "task_id"}, {"name": "person_id"}]},
{"id": "token", "is_internal": true, "properties": [{"name": "person_id"}, {"name": "value"}]}
]}`

func testMeta(t *testing.T) *metadata.Metadata {
	t.Helper()
	m, err := metadata.Parse([]byte(testMetadata))
	require.NoError(t, err)
	return m
}

type notificationRow struct {
	id, changeID, recipientID int64
}

// memStore is an in-memory stand-in for every repository the services use.
type memStore struct {
	mu sync.Mutex

	nextID        int64
	rows          map[string]map[int64]map[string]any
	joins         map[string][]map[string]any
	followers     map[int64]map[int64]bool
	persons       []models.Person
	changes       []*models.Change
	notifications []notificationRow
	moves         []models.PositionInput
	// stored new_value text overriding the encoded one, by change id
	rawValues map[int64]string
}

func newMemStore() *memStore {
	return &memStore{
		nextID:    100,
		rows:      map[string]map[int64]map[string]any{},
		joins:     map[string][]map[string]any{},
		followers: map[int64]map[int64]bool{},
		rawValues: map[int64]string{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func matches(row, keys map[string]any) bool {
	for k, v := range keys {
		a, okA := models.ToInt64(row[k])
		b, okB := models.ToInt64(v)
		if !okA || !okB || a != b {
			return false
		}
	}
	return true
}

// --- EntityRepository

func (m *memStore) Insert(_ context.Context, table string, values map[string]any, returnID bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !returnID {
		m.joins[table] = append(m.joins[table], copyMap(values))
		return 0, nil
	}
	id := m.id()
	if m.rows[table] == nil {
		m.rows[table] = map[int64]map[string]any{}
	}
	row := copyMap(values)
	row["id"] = id
	m.rows[table][id] = row
	return id, nil
}

func (m *memStore) Update(_ context.Context, table string, values, keys map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := models.ToInt64(keys["id"]); ok {
		row, ok := m.rows[table][id]
		if !ok {
			return repositories.ErrNotFound
		}
		for k, v := range values {
			row[k] = v
		}
		return nil
	}
	// like the real repository, touching no row is ErrNotFound
	found := false
	for _, row := range m.joins[table] {
		if matches(row, keys) {
			found = true
			for k, v := range values {
				row[k] = v
			}
		}
	}
	if !found {
		return repositories.ErrNotFound
	}
	return nil
}

func (m *memStore) Delete(_ context.Context, table string, keys map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.joins[table][:0]
	for _, row := range m.joins[table] {
		if !matches(row, keys) {
			kept = append(kept, row)
		}
	}
	removed := len(m.joins[table]) != len(kept)
	m.joins[table] = kept
	if !removed {
		return repositories.ErrNotFound
	}
	return nil
}

func (m *memStore) SoftDelete(_ context.Context, table string, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[table][id]
	if !ok {
		return repositories.ErrNotFound
	}
	row["delete_date"] = at
	return nil
}

func (m *memStore) TaskState(_ context.Context, taskID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows["task"][taskID]
	if !ok {
		return "", repositories.ErrNotFound
	}
	s, _ := row["state"].(string)
	return s, nil
}

func (m *memStore) ProjectPositions(_ context.Context, taskID int64) ([]models.ProjectPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ProjectPosition
	for _, row := range m.joins["task_project"] {
		if matches(row, map[string]any{"task_id": taskID}) {
			pid, _ := models.ToInt64(row["project_id"])
			pos, _ := models.ToInt64(row["position"])
			out = append(out, models.ProjectPosition{ProjectID: pid, Position: int(pos)})
		}
	}
	return out, nil
}

func (m *memStore) TaskIDOf(_ context.Context, table string, id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[table][id]
	if !ok {
		return 0, repositories.ErrNotFound
	}
	taskID, _ := models.ToInt64(row["task_id"])
	return taskID, nil
}

// --- ChangeRepository

// WithinTx drops whatever fn wrote when it fails.
func (m *memStore) WithinTx(_ context.Context, fn func(store repositories.ChangeStore) error) error {
	m.mu.Lock()
	nChanges, nNotifications := len(m.changes), len(m.notifications)
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.changes = m.changes[:nChanges]
		m.notifications = m.notifications[:nNotifications]
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) InsertChange(_ context.Context, c *models.Change, childTable string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.id()
	if childTable != "" {
		c.TaskID = 0
		if row, ok := m.rows[childTable][c.TargetID]; ok {
			c.TaskID, _ = models.ToInt64(row["task_id"])
		}
	}
	saved := *c
	m.changes = append(m.changes, &saved)
	return nil
}

func (m *memStore) TaskAudience(_ context.Context, taskID, excludeID int64) (*models.TaskAudience, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &models.TaskAudience{}
	if row, ok := m.rows["task"][taskID]; ok {
		a.TaskName, _ = row["name"].(string)
	}
	for id := range m.followers[taskID] {
		if id != excludeID {
			a.FollowerIDs = append(a.FollowerIDs, id)
		}
	}
	sort.Slice(a.FollowerIDs, func(i, j int) bool { return a.FollowerIDs[i] < a.FollowerIDs[j] })
	for _, row := range m.joins["task_project"] {
		if matches(row, map[string]any{"task_id": taskID}) {
			pid, _ := models.ToInt64(row["project_id"])
			a.ProjectIDs = append(a.ProjectIDs, pid)
		}
	}
	return a, nil
}

func (m *memStore) InsertNotifications(_ context.Context, changeID int64, recipients []int64) (map[int64]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]int64, len(recipients))
	for _, r := range recipients {
		id := m.id()
		m.notifications = append(m.notifications, notificationRow{id: id, changeID: changeID, recipientID: r})
		out[r] = id
	}
	return out, nil
}

func (m *memStore) ListNotifications(_ context.Context, recipientID int64, limit, offset int) ([]models.NotificationView, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.NotificationView
	for _, n := range m.notifications {
		if n.recipientID != recipientID {
			continue
		}
		for _, c := range m.changes {
			if c.ID == n.changeID {
				view := models.NotificationView{
					ID:           n.id,
					ChangeID:     c.ID,
					EntityID:     c.EntityID,
					TargetID:     c.TargetID,
					PropertyName: c.PropertyName,
				}
				if raw, ok := m.rawValues[c.ID]; ok {
					view.RawValue = &raw
				} else if c.PropertyName != "" {
					b, _ := json.Marshal(c.NewValue)
					raw := string(b)
					view.RawValue = &raw
				}
				out = append(out, view)
			}
		}
	}
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

// --- FollowerRepository

func (m *memStore) EnsureFollowing(_ context.Context, personID, taskID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.followers[taskID] == nil {
		m.followers[taskID] = map[int64]bool{}
	}
	m.followers[taskID][personID] = true
	return nil
}

func (m *memStore) follows(personID, taskID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.followers[taskID][personID]
}

// --- PersonRepository

func (m *memStore) GetByID(_ context.Context, id int64) (*models.Person, error) {
	for _, p := range m.persons {
		if p.ID == id {
			p := p
			return &p, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *memStore) GetByEmail(_ context.Context, email string) (*models.Person, error) {
	for _, p := range m.persons {
		if p.Email == email {
			p := p
			return &p, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *memStore) IDsByUsernames(_ context.Context, usernames []string) ([]int64, error) {
	var out []int64
	for _, u := range usernames {
		for _, p := range m.persons {
			if p.Username == u {
				out = append(out, p.ID)
			}
		}
	}
	return out, nil
}

func (m *memStore) ListByIDs(_ context.Context, ids []int64) ([]models.Person, error) {
	var out []models.Person
	for _, id := range ids {
		for _, p := range m.persons {
			if p.ID == id {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// --- TaskRepository

func (m *memStore) FindShallow(_ context.Context, filter models.TaskFilter) ([]models.ShallowTask, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ShallowTask
	for id, row := range m.rows["task"] {
		if filter.TaskID != nil && *filter.TaskID != id {
			continue
		}
		name, _ := row["name"].(string)
		state, _ := row["state"].(string)
		out = append(out, models.ShallowTask{ID: id, Name: name, State: state})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memStore) MovePosition(_ context.Context, in models.PositionInput) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moves = append(m.moves, in)
	if in.ToPos != nil {
		return *in.ToPos, nil
	}
	return 0, nil
}

// --- helpers

func (m *memStore) changesOf(entityID string) []*models.Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Change
	for _, c := range m.changes {
		if c.EntityID == entityID {
			out = append(out, c)
		}
	}
	return out
}

func (m *memStore) allChanges() []*models.Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.Change(nil), m.changes...)
}

func (m *memStore) notificationsFor(changeID int64) []notificationRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notificationRow
	for _, n := range m.notifications {
		if n.changeID == changeID {
			out = append(out, n)
		}
	}
	return out
}

type broadcast struct {
	change       *models.ChangeMessage
	notification *models.NotificationMessage
	recipients   map[int64]int64
}

type fakeHub struct {
	mu      sync.Mutex
	calls   []broadcast
	offline []int64
}

func (h *fakeHub) Broadcast(change *models.ChangeMessage, notification *models.NotificationMessage, recipients map[int64]int64) []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, broadcast{change: change, notification: notification, recipients: recipients})
	return h.offline
}

func (h *fakeHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

// world wires the services the way app.Run does, over memStore.
type world struct {
	store    *memStore
	hub      *fakeHub
	tasks    *TaskService
	changes  *ChangeService
	entities *EntityService
	routes   map[string]models.Handler
}

func newWorld(t *testing.T, hub Broadcaster) *world {
	t.Helper()
	meta := testMeta(t)
	store := newMemStore()
	w := &world{store: store}
	if hub == nil {
		w.hub = &fakeHub{}
		hub = w.hub
	}
	w.tasks = NewTaskService(store)
	w.changes = NewChangeService(store, meta, w.tasks, hub)
	w.tasks.SetRecorder(w.changes)
	w.entities = NewEntityService(meta, store, store, store, w.changes, w.tasks)
	w.routes = w.entities.Routes()
	return w
}

func (w *world) call(t *testing.T, route string, actorID int64, req *models.Request) (any, error) {
	t.Helper()
	h, ok := w.routes[route]
	require.True(t, ok, "route %s", route)
	req.Route = route
	req.ActorID = actorID
	if req.Data == nil {
		req.Data = map[string]any{}
	}
	return h(context.Background(), req)
}

// seedTask creates a task owned by nobody in particular.
func (w *world) seedTask(t *testing.T, name, state string) int64 {
	t.Helper()
	id, err := w.store.Insert(context.Background(), "task", map[string]any{"name": name, "state": state}, true)
	require.NoError(t, err)
	return id
}
