package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/golang/glog"

	"taskboard/internal/metadata"
	"taskboard/internal/models"
	"taskboard/internal/repositories"
)

type ChangeRecorder interface {
	Record(ctx context.Context, in ChangeInput) (*models.Change, error)
}

// PositionMover is the internal entry point of PUT /task/position.
type PositionMover interface {
	Move(ctx context.Context, actorID int64, in models.PositionInput) (int, error)
}

type entityKind int

const (
	kindSimple entityKind = iota
	kindJoin
	kindInternal
)

// join kinds whose second key is a person that should follow the task
var followingJoinKeys = map[string]string{
	"task_person":    "person_id",
	"task_requester": "requester_id",
}

// fields not replayed as property changes after a create
var createOnlyFields = []string{"id", "task_id", "create_date"}

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_.\-]+)`)

// entityStrategy serves the three generic verbs of one entity.
type entityStrategy interface {
	update(ctx context.Context, req *models.Request) (any, error)
	create(ctx context.Context, req *models.Request) (any, error)
	remove(ctx context.Context, req *models.Request) (any, error)
}

// EntityService builds the generic CRUD routes from the entity metadata
// once, at startup.
type EntityService struct {
	meta      *metadata.Metadata
	entities  repositories.EntityRepository
	followers repositories.FollowerRepository
	persons   repositories.PersonRepository
	changes   ChangeRecorder
	positions PositionMover
	now       func() time.Time

	strategies map[string]entityStrategy
}

func NewEntityService(
	meta *metadata.Metadata,
	entities repositories.EntityRepository,
	followers repositories.FollowerRepository,
	persons repositories.PersonRepository,
	changes ChangeRecorder,
	positions PositionMover,
) *EntityService {
	s := &EntityService{
		meta:       meta,
		entities:   entities,
		followers:  followers,
		persons:    persons,
		changes:    changes,
		positions:  positions,
		now:        time.Now,
		strategies: make(map[string]entityStrategy),
	}
	for _, ent := range meta.Entities {
		switch kindOf(ent) {
		case kindInternal:
			// internal entities (like tokens) don't get CRUD routes
			continue
		case kindJoin:
			s.strategies[ent.ID] = &joinEntity{
				svc:      s,
				ent:      ent,
				props:    meta.PropertyNames(ent),
				keys:     ent.JoinKeys(),
				taskJoin: ent.IsTaskJoin(),
			}
		default:
			s.strategies[ent.ID] = &simpleEntity{
				svc:    s,
				ent:    ent,
				props:  meta.PropertyNames(ent),
				isTask: ent.ID == metadata.TaskEntity,
				child:  meta.IsTaskChild(ent.ID),
			}
		}
	}
	return s
}

func kindOf(ent metadata.Entity) entityKind {
	switch {
	case ent.IsInternal:
		return kindInternal
	case ent.IsJoin:
		return kindJoin
	}
	return kindSimple
}

// Routes returns one handler per verb and entity, keyed by route.
func (s *EntityService) Routes() map[string]models.Handler {
	routes := make(map[string]models.Handler, len(s.strategies)*3)
	for id, st := range s.strategies {
		routes["PUT /entity/"+id] = st.update
		routes["POST /entity/"+id] = st.create
		routes["DELETE /entity/"+id] = st.remove
	}
	return routes
}

func validateProperties(entity string, known map[string]bool, data map[string]any) error {
	var unknown []string
	for name := range data {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return &ValidationError{Kind: ErrUnknownProperty, Entity: entity, Names: unknown}
	}
	return nil
}

// notFound maps a statement that matched no row to a rejection, so no change
// is recorded for a row that isn't there.
func notFound(entity string, keys map[string]any, err error) error {
	if !errors.Is(err, repositories.ErrNotFound) {
		return err
	}
	names := make([]string, 0, len(keys))
	for k, v := range keys {
		names = append(names, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(names)
	return &ValidationError{Kind: ErrNoSuchItem, Entity: entity, Names: names}
}

func copyData(data map[string]any, without ...string) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	for _, k := range without {
		delete(out, k)
	}
	return out
}

func success() map[string]any {
	return map[string]any{"success": true}
}

// --- regular entities --------------------------------------------------

type simpleEntity struct {
	svc    *EntityService
	ent    metadata.Entity
	props  map[string]bool
	isTask bool
	child  bool
}

func (e *simpleEntity) tracked() bool { return e.isTask || e.child }

func (e *simpleEntity) itemID(req *models.Request) (int64, error) {
	if req.ItemID != 0 {
		return req.ItemID, nil
	}
	if id, ok := req.Int64("id"); ok && id != 0 {
		return id, nil
	}
	return 0, &ValidationError{Kind: ErrMissingKey, Entity: e.ent.ID, Names: []string{"id"}}
}

func (e *simpleEntity) update(ctx context.Context, req *models.Request) (any, error) {
	if err := validateProperties(e.ent.ID, e.props, req.Data); err != nil {
		return nil, err
	}
	id, err := e.itemID(req)
	if err != nil {
		return nil, err
	}
	values := copyData(req.Data, "id")
	if len(values) == 0 {
		return nil, &ValidationError{Kind: ErrNoProperties, Entity: e.ent.ID}
	}

	state, stateSupplied := values["state"].(string)
	stateSupplied = e.isTask && stateSupplied && state != ""
	var prevState string
	if stateSupplied {
		// prev_state drives the auto-move below and the accept_date stamp
		prevState, err = e.svc.entities.TaskState(ctx, id)
		if err != nil {
			return nil, notFound(e.ent.ID, map[string]any{"id": id}, err)
		}
		if state == metadata.AcceptedState && prevState != metadata.AcceptedState {
			values["accept_date"] = e.svc.now().UTC()
		}
	}

	keys := map[string]any{"id": id}
	if err := e.svc.entities.Update(ctx, e.ent.ID, values, keys); err != nil {
		return nil, notFound(e.ent.ID, keys, err)
	}

	// supplied properties in request order, the accept_date stamp last
	names := req.OrderedNames(values)
	if err := e.svc.onEntityUpdate(ctx, req.ActorID, e.ent.ID, e.tracked(), id, names, values); err != nil {
		return nil, err
	}

	if stateSupplied && state != prevState && e.svc.shouldAutoMove(state, prevState) {
		if err := e.svc.autoMove(ctx, req.ActorID, id, state); err != nil {
			return nil, err
		}
	}
	return success(), nil
}

func (e *simpleEntity) create(ctx context.Context, req *models.Request) (any, error) {
	if err := validateProperties(e.ent.ID, e.props, req.Data); err != nil {
		return nil, err
	}
	var taskID int64
	if e.child {
		id, ok := req.Int64("task_id")
		if !ok || id == 0 {
			return nil, &ValidationError{Kind: ErrMissingKey, Entity: e.ent.ID, Names: []string{"task_id"}}
		}
		taskID = id
	}

	newID, err := e.svc.entities.Insert(ctx, e.ent.ID, req.Data, true)
	if err != nil {
		return nil, err
	}

	if e.tracked() {
		if e.isTask {
			taskID = newID
		}
		if err := e.svc.followers.EnsureFollowing(ctx, req.ActorID, taskID); err != nil {
			return nil, err
		}
		if _, err := e.svc.changes.Record(ctx, ChangeInput{
			ActorID:    req.ActorID,
			ChangeType: models.ChangeCreate,
			EntityID:   e.ent.ID,
			TargetID:   newID,
			TaskID:     taskID,
		}); err != nil {
			return nil, err
		}

		// the remaining fields are initial values, recorded like updates
		initial := copyData(req.Data, createOnlyFields...)
		if err := e.svc.onEntityUpdate(ctx, req.ActorID, e.ent.ID, true, newID, req.OrderedNames(initial), initial); err != nil {
			return nil, err
		}
	}

	data := copyData(req.Data)
	data["id"] = newID
	return map[string]any{"success": true, "data": data}, nil
}

func (e *simpleEntity) remove(ctx context.Context, req *models.Request) (any, error) {
	id, err := e.itemID(req)
	if err != nil {
		return nil, err
	}
	deleteDate := e.svc.now().UTC()
	if err := e.svc.entities.SoftDelete(ctx, e.ent.ID, id, deleteDate); err != nil {
		return nil, notFound(e.ent.ID, map[string]any{"id": id}, err)
	}

	// soft deletes travel as an update of delete_date, which is what
	// clients render as a deletion
	if e.tracked() {
		if _, err := e.svc.changes.Record(ctx, ChangeInput{
			ActorID:    req.ActorID,
			ChangeType: models.ChangeUpdate,
			EntityID:   e.ent.ID,
			TargetID:   id,
			Property:   "delete_date",
			Value:      deleteDate,
		}); err != nil {
			return nil, err
		}
	}
	return success(), nil
}

// --- join records --------------------------------------------------------

type joinEntity struct {
	svc      *EntityService
	ent      metadata.Entity
	props    map[string]bool
	keys     [2]string
	taskJoin bool
}

// keyValues collects both key columns from the payload (or, for deletes,
// the top-level fields). A key must be a positive id.
func (e *joinEntity) keyValues(req *models.Request) (map[string]any, error) {
	out := make(map[string]any, 2)
	var missing []string
	for _, k := range e.keys {
		v, _ := req.Value(k)
		id, ok := models.ToInt64(v)
		if !ok || id <= 0 {
			missing = append(missing, k)
			continue
		}
		out[k] = id
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Kind: ErrMissingKey, Entity: e.ent.ID, Names: missing}
	}
	return out, nil
}

func (e *joinEntity) change(req *models.Request, keys map[string]any, typ models.ChangeType, prop string, value any) ChangeInput {
	target, _ := models.ToInt64(keys[e.keys[1]])
	taskID, _ := models.ToInt64(keys[e.keys[0]])
	return ChangeInput{
		ActorID:    req.ActorID,
		ChangeType: typ,
		EntityID:   e.ent.ID,
		TargetID:   target,
		TaskID:     taskID,
		Property:   prop,
		Value:      value,
	}
}

func (e *joinEntity) update(ctx context.Context, req *models.Request) (any, error) {
	if err := validateProperties(e.ent.ID, e.props, req.Data); err != nil {
		return nil, err
	}
	keys, err := e.keyValues(&models.Request{Data: req.Data})
	if err != nil {
		return nil, err
	}
	values := copyData(req.Data, e.keys[0], e.keys[1])
	if len(values) == 0 {
		return nil, &ValidationError{Kind: ErrNoProperties, Entity: e.ent.ID}
	}

	if err := e.svc.entities.Update(ctx, e.ent.ID, values, keys); err != nil {
		return nil, notFound(e.ent.ID, keys, err)
	}

	if e.taskJoin {
		for _, name := range req.OrderedNames(values) {
			if _, err := e.svc.changes.Record(ctx, e.change(req, keys, models.ChangeUpdate, name, values[name])); err != nil {
				return nil, err
			}
		}
	}
	return success(), nil
}

func (e *joinEntity) create(ctx context.Context, req *models.Request) (any, error) {
	if err := validateProperties(e.ent.ID, e.props, req.Data); err != nil {
		return nil, err
	}
	keys, err := e.keyValues(&models.Request{Data: req.Data})
	if err != nil {
		return nil, err
	}

	if _, err := e.svc.entities.Insert(ctx, e.ent.ID, req.Data, false); err != nil {
		return nil, err
	}

	if e.taskJoin {
		in := e.change(req, keys, models.ChangeCreate, "", nil)
		if key, ok := followingJoinKeys[e.ent.ID]; ok {
			personID, _ := models.ToInt64(keys[key])
			if err := e.svc.followers.EnsureFollowing(ctx, personID, in.TaskID); err != nil {
				return nil, err
			}
		}
		if _, err := e.svc.changes.Record(ctx, in); err != nil {
			return nil, err
		}
	}
	return map[string]any{"success": true, "data": copyData(req.Data)}, nil
}

func (e *joinEntity) remove(ctx context.Context, req *models.Request) (any, error) {
	keys, err := e.keyValues(req)
	if err != nil {
		return nil, err
	}
	if err := e.svc.entities.Delete(ctx, e.ent.ID, keys); err != nil {
		return nil, notFound(e.ent.ID, keys, err)
	}
	if e.taskJoin {
		if _, err := e.svc.changes.Record(ctx, e.change(req, keys, models.ChangeDelete, "", nil)); err != nil {
			return nil, err
		}
	}
	return success(), nil
}

// --- shared side effects ---------------------------------------------------

// onEntityUpdate runs after properties of a regular entity were written:
// mentioned people start following the task, and tracked entities log one
// change per property, in the order of names.
func (s *EntityService) onEntityUpdate(ctx context.Context, actorID int64, entityID string, tracked bool, itemID int64, names []string, values map[string]any) error {
	for _, name := range names {
		if (entityID == "comment" && name == "text") || name == "description" {
			if err := s.followMentions(ctx, entityID, itemID, values[name]); err != nil {
				return err
			}
		}
	}

	if !tracked {
		return nil
	}
	for _, name := range names {
		if _, err := s.changes.Record(ctx, ChangeInput{
			ActorID:    actorID,
			ChangeType: models.ChangeUpdate,
			EntityID:   entityID,
			TargetID:   itemID,
			Property:   name,
			Value:      values[name],
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *EntityService) followMentions(ctx context.Context, entityID string, itemID int64, text any) error {
	str, ok := text.(string)
	if !ok || s.persons == nil {
		return nil
	}
	usernames := parseMentions(str)
	if len(usernames) == 0 {
		return nil
	}

	var taskID int64
	switch {
	case entityID == metadata.TaskEntity:
		taskID = itemID
	case s.meta.IsTaskChild(entityID):
		id, err := s.entities.TaskIDOf(ctx, entityID, itemID)
		if err != nil {
			return fmt.Errorf("task of %s #%d: %w", entityID, itemID, err)
		}
		taskID = id
	default:
		return nil
	}

	ids, err := s.persons.IDsByUsernames(ctx, usernames)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.followers.EnsureFollowing(ctx, id, taskID); err != nil {
			return err
		}
	}
	return nil
}

func parseMentions(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// shouldAutoMove only moves a task on accept or when work starts, to avoid
// surprising the user by moving it somewhere they don't expect.
func (s *EntityService) shouldAutoMove(state, prevState string) bool {
	if state == metadata.AcceptedState {
		return true
	}
	return s.meta.IsWorkInProgress(state) && metadata.IsNotStarted(prevState)
}

func (s *EntityService) autoMove(ctx context.Context, actorID, taskID int64, state string) error {
	positions, err := s.entities.ProjectPositions(ctx, taskID)
	if err != nil {
		return err
	}
	for _, p := range positions {
		from := p.Position
		_, err := s.positions.Move(ctx, actorID, models.PositionInput{
			ProjectID:        p.ProjectID,
			TaskID:           taskID,
			AlreadyInProject: true,
			PosForState:      state,
			FromPos:          &from,
		})
		if err != nil {
			return fmt.Errorf("auto-move task %d in project %d: %w", taskID, p.ProjectID, err)
		}
		glog.V(1).Infof("[entity] auto-moved task %d in project %d for state %s", taskID, p.ProjectID, state)
	}
	return nil
}
