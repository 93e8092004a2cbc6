// Package memory is an in-process store.Store used by `serve --store=memory`
// and by tests. A single mutex serialises all access; InTx snapshots the state
// and restores it when fn fails.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
)

type memberKey struct {
	group uuid.UUID
	agent uuid.UUID
}

type readKey struct {
	message uuid.UUID
	agent   uuid.UUID
}

type state struct {
	seq   int64
	order map[uuid.UUID]int64

	tenants       map[uuid.UUID]store.Tenant
	users         map[uuid.UUID]store.User
	agents        map[uuid.UUID]store.Agent
	agentSkills   map[uuid.UUID]store.AgentSkill
	groups        map[uuid.UUID]store.AgentGroup
	members       map[memberKey]store.GroupMember
	relationships map[uuid.UUID]store.AgentRelationship
	tasks         map[uuid.UUID]store.AgentTask
	messages      map[uuid.UUID]store.AgentMessage
	reads         map[readKey]time.Time
	skillConfigs  map[uuid.UUID]store.SkillConfig
	executions    []store.SkillExecution
	credentials   map[uuid.UUID]store.SkillCredential
	providers     map[uuid.UUID]store.LLMProvider
	models        map[uuid.UUID]store.LLMModel
	llmConfigs    map[uuid.UUID]store.LLMConfig
	instances     map[uuid.UUID]store.TenantInstance
	traces        map[uuid.UUID][]store.ExecutionTrace
}

func newState() *state {
	return &state{
		order:         map[uuid.UUID]int64{},
		tenants:       map[uuid.UUID]store.Tenant{},
		users:         map[uuid.UUID]store.User{},
		agents:        map[uuid.UUID]store.Agent{},
		agentSkills:   map[uuid.UUID]store.AgentSkill{},
		groups:        map[uuid.UUID]store.AgentGroup{},
		members:       map[memberKey]store.GroupMember{},
		relationships: map[uuid.UUID]store.AgentRelationship{},
		tasks:         map[uuid.UUID]store.AgentTask{},
		messages:      map[uuid.UUID]store.AgentMessage{},
		reads:         map[readKey]time.Time{},
		skillConfigs:  map[uuid.UUID]store.SkillConfig{},
		credentials:   map[uuid.UUID]store.SkillCredential{},
		providers:     map[uuid.UUID]store.LLMProvider{},
		models:        map[uuid.UUID]store.LLMModel{},
		llmConfigs:    map[uuid.UUID]store.LLMConfig{},
		instances:     map[uuid.UUID]store.TenantInstance{},
		traces:        map[uuid.UUID][]store.ExecutionTrace{},
	}
}

func (s *state) clone() *state {
	out := *s
	out.order = maps.Clone(s.order)
	out.tenants = maps.Clone(s.tenants)
	out.users = maps.Clone(s.users)
	out.agents = maps.Clone(s.agents)
	out.agentSkills = maps.Clone(s.agentSkills)
	out.groups = maps.Clone(s.groups)
	out.members = maps.Clone(s.members)
	out.relationships = maps.Clone(s.relationships)
	out.tasks = maps.Clone(s.tasks)
	out.messages = maps.Clone(s.messages)
	out.reads = maps.Clone(s.reads)
	out.skillConfigs = maps.Clone(s.skillConfigs)
	out.executions = slices.Clone(s.executions)
	out.credentials = maps.Clone(s.credentials)
	out.providers = maps.Clone(s.providers)
	out.models = maps.Clone(s.models)
	out.llmConfigs = maps.Clone(s.llmConfigs)
	out.instances = maps.Clone(s.instances)
	out.traces = make(map[uuid.UUID][]store.ExecutionTrace, len(s.traces))
	for k, v := range s.traces {
		out.traces[k] = slices.Clone(v)
	}
	return &out
}

func (s *state) track(id uuid.UUID) {
	s.seq++
	s.order[id] = s.seq
}

type Store struct {
	mu   *sync.Mutex
	st   *state
	inTx bool
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		mu:  &sync.Mutex{},
		st:  newState(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.st.clone()
	tx := &Store{mu: s.mu, st: s.st, inTx: true, now: s.now}
	if err := fn(tx); err != nil {
		*s.st = *snapshot
		return err
	}
	return nil
}

func newID(id uuid.UUID) uuid.UUID {
	if id == uuid.Nil {
		return uuid.New()
	}
	return id
}

func stamp(t time.Time, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}

// values returns the rows accepted by keep in insertion order.
func values[T any](s *state, m map[uuid.UUID]T, keep func(T) bool) []T {
	ids := make([]uuid.UUID, 0, len(m))
	for id, row := range m {
		if keep == nil || keep(row) {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return cmp.Compare(s.order[a], s.order[b])
	})
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}

func ptrEq(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
