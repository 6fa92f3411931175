package token

import "github.com/google/uuid"

// Partition is a named sub-ledger of the asset. Every asset has the default
// partition; additional partitions exist only when the asset was created in
// multi-partition mode.
type Partition string

const DefaultPartition Partition = "default"

// Holder identifies an account on the ledger. The zero UUID is the null
// account and may never hold a balance.
type Holder = uuid.UUID

// NullHolder is the null account.
var NullHolder = uuid.Nil

// Role names an authorization capability checked on every state-mutating
// instruction. Role assignment is verified upstream of the core via the
// compliance.RoleRegistry interface.
type Role string

const (
	RoleIssuer              Role = "issuer"
	RolePauser              Role = "pauser"
	RoleCorporateActions    Role = "corporate_actions"
	RoleBondManager         Role = "bond_manager"
	RoleControlList         Role = "control_list"
	RoleClearing            Role = "clearing"
	RoleFreezeManager       Role = "freeze_manager"
	RoleProtectedPartitions Role = "protected_partitions"

	// RoleWildcard satisfies every role check, including operations on
	// protected partitions.
	RoleWildcard Role = "*"
)

// KYCStatus is the eligibility state reported by the KYC provider.
type KYCStatus int32

const (
	KYCNotGranted KYCStatus = iota
	KYCGranted
	KYCRevoked
)

func (s KYCStatus) String() string {
	switch s {
	case KYCGranted:
		return "granted"
	case KYCRevoked:
		return "revoked"
	default:
		return "not_granted"
	}
}

// ControlListMode selects how control-list membership is interpreted.
type ControlListMode int32

const (
	// ControlListBlock rejects listed accounts.
	ControlListBlock ControlListMode = iota
	// ControlListAllow rejects accounts that are NOT listed.
	ControlListAllow
)

func (m ControlListMode) String() string {
	if m == ControlListAllow {
		return "allowlist"
	}
	return "blocklist"
}
