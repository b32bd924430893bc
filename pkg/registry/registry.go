// Package registry maintains the set of wallet identities authorized to
// submit events, and gates every mutating operation of the other ledger
// components.
//
// The registry is append-only: deauthorization flips a record inactive but
// never removes it, so the audit trail of who was ever trusted survives.
// Exactly one address is the root admin at genesis; it can never be
// deauthorized, only ownership-transferred.
package registry

import (
	"sync"
	"time"

	"github.com/sentinelmesh/core/pkg/contracts"
)

// Registry is the authorized-node set. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	owner   contracts.Address
	records map[contracts.Address]*contracts.IdentityRecord
	order   []contracts.Address // enumeration order = authorization order
	clock   func() time.Time
}

// New creates a registry with the given genesis owner. The owner is
// auto-authorized as an admin node.
func New(owner contracts.Address) *Registry {
	r := &Registry{
		owner:   owner,
		records: make(map[contracts.Address]*contracts.IdentityRecord),
		clock:   time.Now,
	}
	r.records[owner] = &contracts.IdentityRecord{
		Address:      owner,
		DisplayName:  "genesis-owner",
		Class:        contracts.NodeClassAdmin,
		AuthorizedAt: r.clock(),
		Active:       true,
	}
	r.order = append(r.order, owner)
	return r
}

// WithClock overrides the clock for deterministic testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Authorize adds target to the authorized set. Duplicate authorization of
// an active node is an error, not a no-op, so callers check state first and
// audit events stay meaningful. Re-authorizing a previously deauthorized
// node reactivates its record.
func (r *Registry) Authorize(caller, target contracts.Address, name string, class contracts.NodeClass) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return contracts.ErrNotOwner
	}
	if target.IsZero() {
		return contracts.ErrZeroAddress
	}
	if rec, ok := r.records[target]; ok {
		if rec.Active {
			return contracts.ErrAlreadyAuthorized
		}
		rec.DisplayName = name
		rec.Class = class
		rec.AuthorizedAt = r.clock()
		rec.Active = true
		return nil
	}

	r.records[target] = &contracts.IdentityRecord{
		Address:      target,
		DisplayName:  name,
		Class:        class,
		AuthorizedAt: r.clock(),
		Active:       true,
	}
	r.order = append(r.order, target)
	return nil
}

// Deauthorize marks target inactive. The record is retained for audit.
func (r *Registry) Deauthorize(caller, target contracts.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return contracts.ErrNotOwner
	}
	if target == r.owner {
		return contracts.ErrCannotDeauthorizeOwner
	}
	rec, ok := r.records[target]
	if !ok || !rec.Active {
		return contracts.ErrNotAuthorized
	}
	rec.Active = false
	return nil
}

// TransferOwnership moves the root-admin role to newOwner. Ownership
// implies authorization: if newOwner was not already authorized it is
// auto-authorized as part of the transfer.
func (r *Registry) TransferOwnership(caller, newOwner contracts.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return contracts.ErrNotOwner
	}
	if newOwner.IsZero() {
		return contracts.ErrZeroAddress
	}

	if rec, ok := r.records[newOwner]; ok {
		if !rec.Active {
			rec.Active = true
			rec.AuthorizedAt = r.clock()
		}
	} else {
		r.records[newOwner] = &contracts.IdentityRecord{
			Address:      newOwner,
			DisplayName:  "owner",
			Class:        contracts.NodeClassAdmin,
			AuthorizedAt: r.clock(),
			Active:       true,
		}
		r.order = append(r.order, newOwner)
	}

	r.owner = newOwner
	return nil
}

// IsAuthorized reports whether addr may submit events. The owner is always
// authorized.
func (r *Registry) IsAuthorized(addr contracts.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if addr == r.owner {
		return true
	}
	rec, ok := r.records[addr]
	return ok && rec.Active
}

// Owner returns the current root admin.
func (r *Registry) Owner() contracts.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

// Get returns the identity record for addr.
func (r *Registry) Get(addr contracts.Address) (contracts.IdentityRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[addr]
	if !ok {
		return contracts.IdentityRecord{}, contracts.ErrNotFound
	}
	return *rec, nil
}

// ActiveCount scans the enumerable list and counts active nodes.
// Linear scan; node counts are tens, not millions.
func (r *Registry) ActiveCount() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n uint64
	for _, addr := range r.order {
		if r.records[addr].Active {
			n++
		}
	}
	return n
}

// List returns all identity records in authorization order, active or not.
func (r *Registry) List() []contracts.IdentityRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]contracts.IdentityRecord, 0, len(r.order))
	for _, addr := range r.order {
		out = append(out, *r.records[addr])
	}
	return out
}
