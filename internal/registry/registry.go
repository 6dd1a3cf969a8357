// Package registry tracks which sessions belong to which broadcast group and
// fans serialized events out to them.
package registry

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"webchat-service/internal/observability"
)

// Member is a group participant, typically a websocket session.
type Member interface {
	ID() string
	// Send enqueues payload without blocking. It reports false when the
	// member's queue is full or the member is closing.
	Send(payload []byte) bool
	// Close asks the member to shut down. It must not call back into the
	// registry synchronously.
	Close()
}

// Registry is the group membership and fan-out contract used by sessions.
type Registry interface {
	Join(ctx context.Context, key GroupKey, m Member) error
	Leave(key GroupKey, m Member)
	Publish(ctx context.Context, key GroupKey, payload []byte) error
}

type group struct {
	mu      sync.Mutex
	members map[string]Member
	// closed is set once the group has been removed from the registry map;
	// a joiner holding a stale pointer must retry.
	closed bool
}

// LocalRegistry delivers to members connected to this process. Every
// delivery to a group happens under that group's lock, so all members of a
// group observe the same order of events and publishes to different groups
// never contend.
type LocalRegistry struct {
	mu     sync.Mutex
	groups map[GroupKey]*group
	logger zerolog.Logger
}

func NewLocalRegistry(logger zerolog.Logger) *LocalRegistry {
	return &LocalRegistry{
		groups: make(map[GroupKey]*group),
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

// Join adds m to the group, creating the group on first use. Joining twice
// is a no-op.
func (r *LocalRegistry) Join(ctx context.Context, key GroupKey, m Member) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		g := r.getOrCreate(key)
		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			continue
		}
		g.members[m.ID()] = m
		g.mu.Unlock()
		return nil
	}
}

// Leave removes m from the group. Leaving a group one is not in is a no-op.
func (r *LocalRegistry) Leave(key GroupKey, m Member) {
	g := r.lookup(key)
	if g == nil {
		return
	}
	g.mu.Lock()
	delete(g.members, m.ID())
	empty := len(g.members) == 0
	g.mu.Unlock()
	if empty {
		r.reap(key, g)
	}
}

// Publish delivers payload to every local member of the group.
func (r *LocalRegistry) Publish(ctx context.Context, key GroupKey, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.Deliver(key, payload)
	return nil
}

// Deliver enqueues payload to every member of the group and returns how
// many accepted it. Members that refuse are removed and closed.
func (r *LocalRegistry) Deliver(key GroupKey, payload []byte) int {
	g := r.lookup(key)
	if g == nil {
		return 0
	}

	var dropped []Member
	delivered := 0
	g.mu.Lock()
	for id, m := range g.members {
		if m.Send(payload) {
			delivered++
			continue
		}
		delete(g.members, id)
		dropped = append(dropped, m)
	}
	empty := len(g.members) == 0
	g.mu.Unlock()

	observability.AddFanoutDeliveries(delivered)
	for _, m := range dropped {
		observability.IncFanoutDropped()
		r.logger.Warn().Str("group", key.String()).Str("member", m.ID()).Msg("dropping member that cannot keep up")
		m.Close()
	}
	if empty {
		r.reap(key, g)
	}
	return delivered
}

// Size returns the number of local members in the group.
func (r *LocalRegistry) Size(key GroupKey) int {
	g := r.lookup(key)
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// Groups returns the number of non-empty groups.
func (r *LocalRegistry) Groups() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}

func (r *LocalRegistry) lookup(key GroupKey) *group {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.groups[key]
}

func (r *LocalRegistry) getOrCreate(key GroupKey) *group {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[key]
	if !ok {
		g = &group{members: make(map[string]Member)}
		r.groups[key] = g
	}
	return g
}

// reap removes g from the map if it is still empty. Lock order is registry
// then group.
func (r *LocalRegistry) reap(key GroupKey, g *group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.members) == 0 && r.groups[key] == g {
		delete(r.groups, key)
		g.closed = true
	}
}
