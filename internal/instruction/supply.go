package instruction

import (
	"time"

	"SecTokenLedger/internal/token"
)

// Issue mints new tokens into a holder's free balance. Issuer role.
type Issue struct {
	Meta
	Partition token.Partition
	To        token.Holder
	Amount    int64
}

func (i *Issue) InstructionType() Type { return TypeIssue }

// Transfer moves free balance between holders within one partition. While
// clearing mode is active the transfer is intercepted into a pending
// clearing operation with ClearingExpiration.
type Transfer struct {
	Meta
	Partition token.Partition
	From      token.Holder
	To        token.Holder
	Amount    int64

	// Expiration of the clearing operation when intercepted. Ignored while
	// clearing mode is inactive.
	ClearingExpiration time.Time
	ClearingPayload    []byte
}

func (t *Transfer) InstructionType() Type { return TypeTransfer }

// Redeem burns free balance. Subject to clearing interception like Transfer.
type Redeem struct {
	Meta
	Partition token.Partition
	Holder    token.Holder
	Amount    int64

	ClearingExpiration time.Time
	ClearingPayload    []byte
}

func (r *Redeem) InstructionType() Type { return TypeRedeem }

// RedeemAtMaturity burns a bond holder's free balance once the configured
// maturity date is reached. Bond-manager role.
type RedeemAtMaturity struct {
	Meta
	Holder token.Holder
	Amount int64
}

func (r *RedeemAtMaturity) InstructionType() Type { return TypeRedeemAtMaturity }
