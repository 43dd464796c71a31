package sim

import (
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/phagosim/agent"
)

// Identity tags a registry entity with its agent's id and type.
type Identity struct {
	ID   int
	Type agent.Type
}

// Cell links a registry entity to its live agent.
type Cell struct {
	Agent *agent.Agent
}

// Census counts live agents by type.
type Census struct {
	Pathogens      int
	Responders     int
	FastResponders int
}

// Total returns the number of live agents.
func (c Census) Total() int { return c.Pathogens + c.Responders + c.FastResponders }

// Registry mirrors the live agents as ECS entities.
type Registry struct {
	world  *ecs.World
	mapper *ecs.Map2[Identity, Cell]
	filter *ecs.Filter2[Identity, Cell]
	byID   map[int]ecs.Entity
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	world := ecs.NewWorld()
	return &Registry{
		world:  world,
		mapper: ecs.NewMap2[Identity, Cell](world),
		filter: ecs.NewFilter2[Identity, Cell](world),
		byID:   make(map[int]ecs.Entity),
	}
}

// Add registers a live agent.
func (r *Registry) Add(a *agent.Agent) {
	id := Identity{ID: a.ID(), Type: a.Type()}
	cell := Cell{Agent: a}
	r.byID[a.ID()] = r.mapper.NewEntity(&id, &cell)
}

// Len returns the number of registered agents.
func (r *Registry) Len() int { return len(r.byID) }

// Has reports whether the agent with id is registered.
func (r *Registry) Has(id int) bool {
	e, ok := r.byID[id]
	return ok && r.world.Alive(e)
}

// Sync removes every entity whose agent is not in live.
func (r *Registry) Sync(live []*agent.Agent) int {
	keep := make(map[int]struct{}, len(live))
	for _, a := range live {
		keep[a.ID()] = struct{}{}
	}

	// First pass: collect (must complete before modifying)
	type gone struct {
		entity ecs.Entity
		id     int
	}
	var toRemove []gone
	query := r.filter.Query()
	for query.Next() {
		ident, _ := query.Get()
		if _, ok := keep[ident.ID]; !ok {
			toRemove = append(toRemove, gone{entity: query.Entity(), id: ident.ID})
		}
	}

	// Second pass: remove
	for _, g := range toRemove {
		r.world.RemoveEntity(g.entity)
		delete(r.byID, g.id)
	}
	return len(toRemove)
}

// Census counts the registered agents by type.
func (r *Registry) Census() Census {
	var c Census
	query := r.filter.Query()
	for query.Next() {
		ident, _ := query.Get()
		switch ident.Type {
		case agent.Pathogen:
			c.Pathogens++
		case agent.Responder:
			c.Responders++
		case agent.FastResponder:
			c.FastResponders++
		}
	}
	return c
}

// Each calls fn for every registered agent.
func (r *Registry) Each(fn func(Identity, *agent.Agent)) {
	query := r.filter.Query()
	for query.Next() {
		ident, cell := query.Get()
		fn(*ident, cell.Agent)
	}
}
