package groups

import (
	"sync"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
)

// Graph is the adjacency view of one group's relationships. It is
// immutable once built.
type Graph struct {
	GroupID uuid.UUID
	members map[uuid.UUID]struct{}
	out     map[uuid.UUID][]store.AgentRelationship
}

func newGraph(groupID uuid.UUID, members []store.GroupMember, rels []store.AgentRelationship) *Graph {
	g := &Graph{
		GroupID: groupID,
		members: make(map[uuid.UUID]struct{}, len(members)),
		out:     make(map[uuid.UUID][]store.AgentRelationship),
	}
	for _, m := range members {
		g.members[m.AgentID] = struct{}{}
	}
	for _, r := range rels {
		g.out[r.FromAgentID] = append(g.out[r.FromAgentID], r)
	}
	return g
}

func (g *Graph) IsMember(agentID uuid.UUID) bool {
	_, ok := g.members[agentID]
	return ok
}

// Edges returns every relationship from -> to.
func (g *Graph) Edges(from, to uuid.UUID) []store.AgentRelationship {
	var out []store.AgentRelationship
	for _, r := range g.out[from] {
		if r.ToAgentID == to {
			out = append(out, r)
		}
	}
	return out
}

// HasOutgoing reports whether from has at least one relationship to a peer.
func (g *Graph) HasOutgoing(from uuid.UUID) bool {
	return len(g.out[from]) > 0
}

// CanDelegate reports whether from supervises or delegates to to.
func (g *Graph) CanDelegate(from, to uuid.UUID) bool {
	for _, r := range g.Edges(from, to) {
		if r.RelationshipType.CanDelegate() {
			return true
		}
	}
	return false
}

type graphKey struct {
	tenant uuid.UUID
	group  uuid.UUID
}

// graphCache holds built graphs until a membership or relationship change
// in the group invalidates them. A build that raced an invalidation is not
// stored.
type graphCache struct {
	mu     sync.RWMutex
	graphs map[graphKey]*Graph
	gen    map[graphKey]uint64
}

func newGraphCache() *graphCache {
	return &graphCache{graphs: make(map[graphKey]*Graph), gen: make(map[graphKey]uint64)}
}

func (c *graphCache) get(k graphKey) (*Graph, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.graphs[k]
	return g, c.gen[k], ok
}

func (c *graphCache) put(k graphKey, g *Graph, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[k] == gen {
		c.graphs[k] = g
	}
}

func (c *graphCache) invalidate(k graphKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.graphs, k)
	c.gen[k]++
}
