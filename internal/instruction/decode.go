package instruction

import (
	"encoding/json"
	"fmt"
)

// ParseType maps a stored type name back to its discriminator.
func ParseType(s string) Type {
	switch s {
	case "Issue":
		return TypeIssue
	case "Transfer":
		return TypeTransfer
	case "Redeem":
		return TypeRedeem
	case "RedeemAtMaturity":
		return TypeRedeemAtMaturity
	case "HoldCreate":
		return TypeHoldCreate
	case "HoldExecute":
		return TypeHoldExecute
	case "HoldRelease":
		return TypeHoldRelease
	case "HoldReclaim":
		return TypeHoldReclaim
	case "Freeze":
		return TypeFreeze
	case "Unfreeze":
		return TypeUnfreeze
	case "FreezeBatch":
		return TypeFreezeBatch
	case "UnfreezeBatch":
		return TypeUnfreezeBatch
	case "ClearingSetActive":
		return TypeClearingSetActive
	case "ClearingApprove":
		return TypeClearingApprove
	case "ClearingReclaim":
		return TypeClearingReclaim
	case "ScheduleDividend":
		return TypeScheduleDividend
	case "ScheduleVoting":
		return TypeScheduleVoting
	case "ScheduleCoupon":
		return TypeScheduleCoupon
	case "ScheduleBalanceAdjustment":
		return TypeScheduleBalanceAdjustment
	case "SetPaused":
		return TypeSetPaused
	case "GrantRole":
		return TypeGrantRole
	case "RevokeRole":
		return TypeRevokeRole
	case "KYCGrant":
		return TypeKYCGrant
	case "KYCRevoke":
		return TypeKYCRevoke
	case "ControlListAdd":
		return TypeControlListAdd
	case "ControlListRemove":
		return TypeControlListRemove
	}
	return TypeUnknown
}

// Decode reconstructs a typed instruction from an envelope payload as written
// by the core (json.Marshal of the concrete type). Used during log replay.
func Decode(t Type, payload []byte) (Instruction, error) {
	var ins Instruction
	switch t {
	case TypeIssue:
		ins = &Issue{}
	case TypeTransfer:
		ins = &Transfer{}
	case TypeRedeem:
		ins = &Redeem{}
	case TypeRedeemAtMaturity:
		ins = &RedeemAtMaturity{}
	case TypeHoldCreate:
		ins = &HoldCreate{}
	case TypeHoldExecute:
		ins = &HoldExecute{}
	case TypeHoldRelease:
		ins = &HoldRelease{}
	case TypeHoldReclaim:
		ins = &HoldReclaim{}
	case TypeFreeze:
		ins = &Freeze{}
	case TypeUnfreeze:
		ins = &Unfreeze{}
	case TypeFreezeBatch:
		ins = &FreezeBatch{}
	case TypeUnfreezeBatch:
		ins = &UnfreezeBatch{}
	case TypeClearingSetActive:
		ins = &ClearingSetActive{}
	case TypeClearingApprove:
		ins = &ClearingApprove{}
	case TypeClearingReclaim:
		ins = &ClearingReclaim{}
	case TypeScheduleDividend:
		ins = &ScheduleDividend{}
	case TypeScheduleVoting:
		ins = &ScheduleVoting{}
	case TypeScheduleCoupon:
		ins = &ScheduleCoupon{}
	case TypeScheduleBalanceAdjustment:
		ins = &ScheduleBalanceAdjustment{}
	case TypeSetPaused:
		ins = &SetPaused{}
	case TypeGrantRole:
		ins = &GrantRole{}
	case TypeRevokeRole:
		ins = &RevokeRole{}
	case TypeKYCGrant:
		ins = &KYCGrant{}
	case TypeKYCRevoke:
		ins = &KYCRevoke{}
	case TypeControlListAdd:
		ins = &ControlListAdd{}
	case TypeControlListRemove:
		ins = &ControlListRemove{}
	default:
		return nil, fmt.Errorf("unknown instruction type %d", t)
	}

	if err := json.Unmarshal(payload, ins); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return ins, nil
}
