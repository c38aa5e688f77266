// Package runnerproxy serializes mutation of the shared pack-index snapshot
// and the recent runner-event ring behind a single-consumer command queue,
// so concurrent HTTP handlers never coordinate a lock themselves.
package runnerproxy

import (
	"log/slog"
	"sync"
	"time"

	"flowbench/internal/pack"
)

// ringCap bounds the retained event history; past it the oldest events are
// evicted first. Recency, not statistical representativeness, is the policy.
const ringCap = 100

// Defaults carries the seed tenant/team announced with an index reload.
type Defaults struct {
	Tenant string
	Team   string
}

// Event is one synthesized runner invocation.
type Event struct {
	TimestampMS int64  `json:"timestamp_ms"`
	Flow        string `json:"flow"`
	Tenant      string `json:"tenant,omitempty"`
	Team        string `json:"team,omitempty"`
	User        string `json:"user,omitempty"`
	Payload     any    `json:"payload"`
	Result      any    `json:"result"`
}

// Command is a closed set of proxy commands.
type Command interface{ isCommand() }

// ReloadIndex replaces the shared index snapshot.
type ReloadIndex struct {
	Index    pack.Index
	Defaults Defaults
}

// EmitActivity synthesizes a runner event and appends it to the ring.
type EmitActivity struct {
	Flow    string
	Tenant  string
	Team    string
	User    string
	Payload any
}

// Emit is a log-only command.
type Emit struct {
	Message string
}

// ClearEvents empties the ring. Routed through the queue so only the
// consumer ever touches the ring, and so a clear cannot overtake an emit
// submitted before it.
type ClearEvents struct{}

func (ReloadIndex) isCommand()  {}
func (EmitActivity) isCommand() {}
func (Emit) isCommand()         {}
func (ClearEvents) isCommand()  {}

// Proxy owns the index snapshot and the event ring. Commands are processed
// strictly in submission order by one consumer goroutine; readers get copies
// under a read-mostly lock held only for the duration of the copy.
type Proxy struct {
	logger *slog.Logger

	commands chan Command
	done     chan struct{}
	stopped  chan struct{}

	mu     sync.RWMutex
	index  pack.Index
	events []Event
}

// New starts the consumer loop with the given initial index snapshot.
func New(logger *slog.Logger, index pack.Index) *Proxy {
	p := &Proxy{
		logger:   logger,
		commands: make(chan Command, 256),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		index:    index,
	}
	go p.consume()
	return p
}

// Submit enqueues a command without blocking the caller. Delivery failures
// (stopped consumer, saturated queue) are logged, never propagated.
func (p *Proxy) Submit(cmd Command) {
	select {
	case <-p.done:
		p.logger.Error("runner proxy stopped; dropping command", "command", commandName(cmd))
		return
	default:
	}
	select {
	case p.commands <- cmd:
	case <-p.done:
		p.logger.Error("runner proxy stopped; dropping command", "command", commandName(cmd))
	default:
		p.logger.Error("runner proxy queue full; dropping command", "command", commandName(cmd))
	}
}

// Close stops the consumer. Commands already queued are discarded; commands
// submitted afterwards are logged drops.
func (p *Proxy) Close() {
	close(p.done)
	<-p.stopped
}

// Snapshot returns the current index snapshot.
func (p *Proxy) Snapshot() pack.Index {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.index
}

// Events returns a copy of the retained event ring, oldest first.
func (p *Proxy) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

func (p *Proxy) consume() {
	defer close(p.stopped)
	for {
		select {
		case <-p.done:
			return
		case cmd := <-p.commands:
			p.handle(cmd)
		}
	}
}

func (p *Proxy) handle(cmd Command) {
	switch c := cmd.(type) {
	case ReloadIndex:
		p.mu.Lock()
		p.index = c.Index
		p.mu.Unlock()
		p.logger.Info("runner proxy reloaded pack index",
			"pack_count", len(c.Index.Entries),
			"default_tenant", c.Defaults.Tenant,
			"default_team", c.Defaults.Team)
	case EmitActivity:
		event := synthesize(c)
		p.mu.Lock()
		p.events = append(p.events, event)
		if excess := len(p.events) - ringCap; excess > 0 {
			p.events = append(p.events[:0:0], p.events[excess:]...)
		}
		p.mu.Unlock()
		p.logger.Info("runner proxy emitted activity",
			"flow", event.Flow, "tenant", event.Tenant,
			"team", event.Team, "user", event.User)
	case Emit:
		p.logger.Info("runner proxy emit", "message", c.Message)
	case ClearEvents:
		p.mu.Lock()
		p.events = nil
		p.mu.Unlock()
		p.logger.Info("runner proxy cleared events")
	default:
		p.logger.Warn("runner proxy ignoring unknown command")
	}
}

func synthesize(c EmitActivity) Event {
	return Event{
		TimestampMS: time.Now().UnixMilli(),
		Flow:        c.Flow,
		Tenant:      c.Tenant,
		Team:        c.Team,
		User:        c.User,
		Payload:     c.Payload,
		Result: map[string]any{
			"flow":   c.Flow,
			"echo":   c.Payload,
			"status": "ok",
		},
	}
}

func commandName(cmd Command) string {
	switch cmd.(type) {
	case ReloadIndex:
		return "reload_index"
	case EmitActivity:
		return "emit_activity"
	case Emit:
		return "emit"
	case ClearEvents:
		return "clear_events"
	default:
		return "unknown"
	}
}
