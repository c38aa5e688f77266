// Package session stores tenant-scoped workflow session records behind a
// filter-based query contract with interchangeable backends.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by callers that require a session to be present;
// store mutations on absent keys are deliberately not errors.
var ErrNotFound = errors.New("session not found")

// ErrTenantRequired rejects upserts without a tenant.
var ErrTenantRequired = errors.New("session tenant is required")

// Record is one persisted session. Optional scope fields are empty strings
// when absent. Context is a free-form JSON-shaped document.
type Record struct {
	Key              string `json:"key"`
	Tenant           string `json:"tenant"`
	Team             string `json:"team,omitempty"`
	User             string `json:"user,omitempty"`
	FlowID           string `json:"flow_id,omitempty"`
	NodeID           string `json:"node_id,omitempty"`
	Context          any    `json:"context,omitempty"`
	UpdatedAtEpochMS int64  `json:"updated_at_epoch_ms"`
}

// Upsert is the write payload for Store.Upsert. An empty Key asks the store
// to generate one.
type Upsert struct {
	Key     string `json:"key,omitempty"`
	Tenant  string `json:"tenant"`
	Team    string `json:"team,omitempty"`
	User    string `json:"user,omitempty"`
	FlowID  string `json:"flow_id,omitempty"`
	NodeID  string `json:"node_id,omitempty"`
	Context any    `json:"context,omitempty"`
}

// Filter selects records by tenant/team/user. Matching is conjunctive and
// empty fields impose no constraint, so the zero Filter matches everything.
type Filter struct {
	Tenant string
	Team   string
	User   string
}

// Matches reports whether every present filter field equals the record's.
func (f Filter) Matches(r Record) bool {
	if f.Tenant != "" && r.Tenant != f.Tenant {
		return false
	}
	if f.Team != "" && r.Team != f.Team {
		return false
	}
	if f.User != "" && r.User != f.User {
		return false
	}
	return true
}

// Store is the session persistence contract. Implementations must keep keys
// unique and make List/Find ordering deterministic within one instance.
type Store interface {
	// List returns every record matching the filter.
	List(ctx context.Context, filter Filter) ([]Record, error)

	// Find returns the first matching record, or nil when nothing matches.
	Find(ctx context.Context, filter Filter) (*Record, error)

	// Upsert inserts or fully replaces the record with the payload's key,
	// refreshing the update timestamp.
	Upsert(ctx context.Context, payload Upsert) (Record, error)

	// Purge removes every matching record and returns how many were removed.
	Purge(ctx context.Context, filter Filter) (int, error)

	// Remove deletes by key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
