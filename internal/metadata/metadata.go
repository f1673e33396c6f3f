// Package metadata loads the declarative entity description shared with the
// web client. The file is JSON in practice; it is decoded with the yaml
// decoder, which accepts JSON as well.
package metadata

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	TaskEntity  = "task"
	taskPrefix  = "task_"
	taskIDField = "task_id"
)

// non-WIP states that qualify a task for an auto-move when work starts
var notStartedStates = map[string]bool{"unstarted": true, "unscheduled": true}

const AcceptedState = "accepted"

type Property struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

type Entity struct {
	ID         string     `yaml:"id" json:"id"`
	Properties []Property `yaml:"properties" json:"properties"`
	IsJoin     bool       `yaml:"is_join" json:"is_join"`
	IsInternal bool       `yaml:"is_internal" json:"is_internal"`
}

type State struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

type Metadata struct {
	Entities       []Entity   `yaml:"entities"`
	CoreProperties []Property `yaml:"core_properties"`
	States         []State    `yaml:"states"`

	byID map[string]int
}

func Load(path string) (*Metadata, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Metadata, error) {
	var m Metadata
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	m.byID = make(map[string]int, len(m.Entities))
	for i, ent := range m.Entities {
		if ent.ID == "" {
			return nil, fmt.Errorf("entity #%d has no id", i)
		}
		if _, dup := m.byID[ent.ID]; dup {
			return nil, fmt.Errorf("duplicate entity %q", ent.ID)
		}
		if ent.IsJoin && len(strings.Split(ent.ID, "_")) != 2 {
			return nil, fmt.Errorf("join entity %q must be named <a>_<b>", ent.ID)
		}
		m.byID[ent.ID] = i
	}
	return &m, nil
}

func (m *Metadata) Entity(id string) (Entity, bool) {
	i, ok := m.byID[id]
	if !ok {
		return Entity{}, false
	}
	return m.Entities[i], true
}

// PropertyNames is the set of names a request may supply for ent. Regular
// entities also accept the core properties (id, create_date, ...).
func (m *Metadata) PropertyNames(ent Entity) map[string]bool {
	names := make(map[string]bool, len(ent.Properties)+len(m.CoreProperties))
	for _, p := range ent.Properties {
		names[p.Name] = true
	}
	if !ent.IsJoin && !ent.IsInternal {
		for _, p := range m.CoreProperties {
			names[p.Name] = true
		}
	}
	return names
}

// IsTaskChild reports whether ent is owned by a task through its own task_id
// column (comments, blockers, ...).
func (m *Metadata) IsTaskChild(id string) bool {
	ent, ok := m.Entity(id)
	if !ok || ent.IsJoin || ent.IsInternal || ent.ID == TaskEntity {
		return false
	}
	for _, p := range ent.Properties {
		if p.Name == taskIDField {
			return true
		}
	}
	return false
}

// IsWorkInProgress: any known state other than the not-started ones and
// accepted. With no configured states every other
// non-empty value counts.
func (m *Metadata) IsWorkInProgress(state string) bool {
	if state == "" || state == AcceptedState || notStartedStates[state] {
		return false
	}
	if len(m.States) == 0 {
		return true
	}
	for _, s := range m.States {
		if s.ID == state {
			return true
		}
	}
	return false
}

func IsNotStarted(state string) bool {
	return notStartedStates[state]
}

// JoinKeys derives the two key columns of a join entity: task_project has
// task_id and project_id.
func (e Entity) JoinKeys() [2]string {
	parts := strings.SplitN(e.ID, "_", 2)
	return [2]string{parts[0] + "_id", parts[1] + "_id"}
}

// IsTaskJoin reports whether a join hangs off a task (task_project,
// task_tag, task_person, task_requester).
func (e Entity) IsTaskJoin() bool {
	return e.IsJoin && strings.HasPrefix(e.ID, taskPrefix)
}
