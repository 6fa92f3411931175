package instruction

import "SecTokenLedger/internal/token"

// SetPaused halts or resumes every balance-mutating instruction. Pauser role.
type SetPaused struct {
	Meta
	Paused bool
}

func (s *SetPaused) InstructionType() Type { return TypeSetPaused }

// GrantRole grants an administrative role. Wildcard role.
type GrantRole struct {
	Meta
	Account token.Holder
	Role    token.Role
}

func (g *GrantRole) InstructionType() Type { return TypeGrantRole }

// RevokeRole revokes an administrative role. Wildcard role.
type RevokeRole struct {
	Meta
	Account token.Holder
	Role    token.Role
}

func (r *RevokeRole) InstructionType() Type { return TypeRevokeRole }

// KYCGrant marks an account as verified.
type KYCGrant struct {
	Meta
	Account token.Holder
}

func (k *KYCGrant) InstructionType() Type { return TypeKYCGrant }

// KYCRevoke withdraws an account's verification.
type KYCRevoke struct {
	Meta
	Account token.Holder
}

func (k *KYCRevoke) InstructionType() Type { return TypeKYCRevoke }

// ControlListAdd lists an account on the control list. Control-list role.
type ControlListAdd struct {
	Meta
	Account token.Holder
}

func (c *ControlListAdd) InstructionType() Type { return TypeControlListAdd }

// ControlListRemove delists an account. Control-list role.
type ControlListRemove struct {
	Meta
	Account token.Holder
}

func (c *ControlListRemove) InstructionType() Type { return TypeControlListRemove }
