// Package compliance holds the eligibility state checked before any transfer
// of value: role grants, KYC status, the control list and the pause flag.
// All state is deterministic and instruction-driven; checks run in the core
// before the ledger is touched.
package compliance

import (
	"sort"

	"SecTokenLedger/internal/token"
)

// RoleRegistry tracks which operator holds which administrative role. The
// wildcard role grants every permission.
type RoleRegistry struct {
	grants map[token.Holder]map[token.Role]struct{}
}

func NewRoleRegistry() *RoleRegistry {
	return &RoleRegistry{grants: make(map[token.Holder]map[token.Role]struct{})}
}

// Grant adds a role to an operator. Idempotent.
func (r *RoleRegistry) Grant(h token.Holder, role token.Role) {
	if r.grants[h] == nil {
		r.grants[h] = make(map[token.Role]struct{})
	}
	r.grants[h][role] = struct{}{}
}

// Revoke removes a role from an operator. Revoking an absent grant is a no-op.
func (r *RoleRegistry) Revoke(h token.Holder, role token.Role) {
	if set := r.grants[h]; set != nil {
		delete(set, role)
		if len(set) == 0 {
			delete(r.grants, h)
		}
	}
}

// Has reports whether the operator holds the role or the wildcard.
func (r *RoleRegistry) Has(h token.Holder, role token.Role) bool {
	set := r.grants[h]
	if set == nil {
		return false
	}
	if _, ok := set[token.RoleWildcard]; ok {
		return true
	}
	_, ok := set[role]
	return ok
}

// Require returns ErrUnauthorized unless the operator holds the role.
func (r *RoleRegistry) Require(h token.Holder, role token.Role) error {
	if !r.Has(h, role) {
		return token.ErrUnauthorized
	}
	return nil
}

// RolesOf returns the operator's roles, sorted (state snapshot).
func (r *RoleRegistry) RolesOf(h token.Holder) []token.Role {
	set := r.grants[h]
	out := make([]token.Role, 0, len(set))
	for role := range set {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Grants returns every (holder, role) pair for persistence.
func (r *RoleRegistry) Grants() map[token.Holder][]token.Role {
	out := make(map[token.Holder][]token.Role, len(r.grants))
	for h := range r.grants {
		out[h] = r.RolesOf(h)
	}
	return out
}

// KYCProvider tracks per-holder verification status. Holders start at
// not-granted; only a granted holder passes eligibility.
type KYCProvider struct {
	status map[token.Holder]token.KYCStatus
}

func NewKYCProvider() *KYCProvider {
	return &KYCProvider{status: make(map[token.Holder]token.KYCStatus)}
}

func (k *KYCProvider) Grant(h token.Holder) {
	k.status[h] = token.KYCGranted
}

func (k *KYCProvider) Revoke(h token.Holder) {
	k.status[h] = token.KYCRevoked
}

func (k *KYCProvider) StatusOf(h token.Holder) token.KYCStatus {
	return k.status[h]
}

// Check returns ErrKYCInvalid unless the holder is granted.
func (k *KYCProvider) Check(h token.Holder) error {
	if k.status[h] != token.KYCGranted {
		return token.ErrKYCInvalid
	}
	return nil
}

// Statuses returns every non-default status for persistence.
func (k *KYCProvider) Statuses() map[token.Holder]token.KYCStatus {
	out := make(map[token.Holder]token.KYCStatus, len(k.status))
	for h, s := range k.status {
		out[h] = s
	}
	return out
}

// ControlList is either a blocklist (listed holders are barred) or an
// allowlist (only listed holders may participate). The mode is fixed at
// construction.
type ControlList struct {
	mode    token.ControlListMode
	entries map[token.Holder]struct{}
}

func NewControlList(mode token.ControlListMode) *ControlList {
	return &ControlList{mode: mode, entries: make(map[token.Holder]struct{})}
}

func (c *ControlList) Mode() token.ControlListMode {
	return c.mode
}

func (c *ControlList) Add(h token.Holder) {
	c.entries[h] = struct{}{}
}

func (c *ControlList) Remove(h token.Holder) {
	delete(c.entries, h)
}

func (c *ControlList) Contains(h token.Holder) bool {
	_, ok := c.entries[h]
	return ok
}

// Check returns ErrControlListBlocked when the holder fails the list rule.
func (c *ControlList) Check(h token.Holder) error {
	listed := c.Contains(h)
	if c.mode == token.ControlListAllow && !listed {
		return token.ErrControlListBlocked
	}
	if c.mode == token.ControlListBlock && listed {
		return token.ErrControlListBlocked
	}
	return nil
}

// Members returns the listed holders sorted by id (state snapshot).
func (c *ControlList) Members() []token.Holder {
	out := make([]token.Holder, 0, len(c.entries))
	for h := range c.entries {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// PauseState is the asset-wide halt flag. While paused every balance-mutating
// instruction is rejected; queries and admin instructions still run.
type PauseState struct {
	paused bool
}

func NewPauseState() *PauseState {
	return &PauseState{}
}

func (p *PauseState) Paused() bool {
	return p.paused
}

func (p *PauseState) SetPaused(paused bool) {
	p.paused = paused
}

// Check returns ErrPaused while the asset is halted.
func (p *PauseState) Check() error {
	if p.paused {
		return token.ErrPaused
	}
	return nil
}
