package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"SecTokenLedger/internal/instruction"
	"SecTokenLedger/internal/token"
)

// ParseRawInstruction converts a RawInstruction (JSON bytes + instruction
// type name) into a typed instruction. The ingestion shell validates, parses
// and converts before anything reaches the deterministic core.
func ParseRawInstruction(raw RawInstruction, instructionType string) (instruction.Instruction, error) {
	switch instructionType {
	case "Issue":
		return parseIssue(raw.Data)
	case "Transfer":
		return parseTransfer(raw.Data)
	case "Redeem":
		return parseRedeem(raw.Data)
	case "RedeemAtMaturity":
		return parseRedeemAtMaturity(raw.Data)
	case "HoldCreate":
		return parseHoldCreate(raw.Data)
	case "HoldExecute":
		return parseHoldExecute(raw.Data)
	case "HoldRelease":
		return parseHoldRelease(raw.Data)
	case "HoldReclaim":
		return parseHoldReclaim(raw.Data)
	case "Freeze":
		return parseFreeze(raw.Data)
	case "Unfreeze":
		return parseUnfreeze(raw.Data)
	case "FreezeBatch":
		return parseFreezeBatch(raw.Data)
	case "UnfreezeBatch":
		return parseUnfreezeBatch(raw.Data)
	case "ClearingSetActive":
		return parseClearingSetActive(raw.Data)
	case "ClearingApprove":
		return parseClearingApprove(raw.Data)
	case "ClearingReclaim":
		return parseClearingReclaim(raw.Data)
	case "ScheduleDividend":
		return parseScheduleDividend(raw.Data)
	case "ScheduleVoting":
		return parseScheduleVoting(raw.Data)
	case "ScheduleCoupon":
		return parseScheduleCoupon(raw.Data)
	case "ScheduleBalanceAdjustment":
		return parseScheduleBalanceAdjustment(raw.Data)
	case "SetPaused":
		return parseSetPaused(raw.Data)
	case "GrantRole":
		return parseGrantRole(raw.Data)
	case "RevokeRole":
		return parseRevokeRole(raw.Data)
	case "KYCGrant":
		return parseKYCGrant(raw.Data)
	case "KYCRevoke":
		return parseKYCRevoke(raw.Data)
	case "ControlListAdd":
		return parseControlListAdd(raw.Data)
	case "ControlListRemove":
		return parseControlListRemove(raw.Data)
	default:
		return nil, fmt.Errorf("unknown instruction type: %s", instructionType)
	}
}

// InstructionTypeForSubject maps a concrete NATS subject back to its
// instruction type name using the configured subject prefixes.
func InstructionTypeForSubject(subject string, subjects []SubjectConfig) string {
	for _, cfg := range subjects {
		// Strip the trailing ">" wildcard and compare prefixes.
		prefix := cfg.Subject[:len(cfg.Subject)-1]
		if len(subject) >= len(prefix) && subject[:len(prefix)] == prefix {
			return cfg.InstructionType
		}
	}
	return ""
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS and gRPC.
// Field names use snake_case to match upstream producers. Every payload
// carries instruction_id (idempotency key), operator, and timestamp_us (the
// versioned input time the core uses instead of the wall clock).

type metaJSON struct {
	InstructionID string `json:"instruction_id"`
	Operator      string `json:"operator"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func (j metaJSON) toMeta() (instruction.Meta, error) {
	id, err := uuid.Parse(j.InstructionID)
	if err != nil {
		return instruction.Meta{}, fmt.Errorf("parse instruction_id: %w", err)
	}
	operator, err := uuid.Parse(j.Operator)
	if err != nil {
		return instruction.Meta{}, fmt.Errorf("parse operator: %w", err)
	}
	return instruction.Meta{
		ID:       id,
		Time:     time.UnixMicro(j.TimestampUs),
		Operator: operator,
	}, nil
}

func parseHolder(field, s string) (token.Holder, error) {
	h, err := uuid.Parse(s)
	if err != nil {
		return token.NullHolder, fmt.Errorf("parse %s: %w", field, err)
	}
	return h, nil
}

type issueJSON struct {
	metaJSON
	Partition string `json:"partition,omitempty"`
	To        string `json:"to"`
	Amount    int64  `json:"amount"`
}

func parseIssue(data []byte) (*instruction.Issue, error) {
	var j issueJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Issue: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	to, err := parseHolder("to", j.To)
	if err != nil {
		return nil, err
	}
	return &instruction.Issue{
		Meta:      meta,
		Partition: token.Partition(j.Partition),
		To:        to,
		Amount:    j.Amount,
	}, nil
}

type transferJSON struct {
	metaJSON
	Partition            string `json:"partition,omitempty"`
	From                 string `json:"from"`
	To                   string `json:"to"`
	Amount               int64  `json:"amount"`
	ClearingExpirationUs int64  `json:"clearing_expiration_us,omitempty"`
	ClearingPayload      []byte `json:"clearing_payload,omitempty"`
}

func parseTransfer(data []byte) (*instruction.Transfer, error) {
	var j transferJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Transfer: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	from, err := parseHolder("from", j.From)
	if err != nil {
		return nil, err
	}
	to, err := parseHolder("to", j.To)
	if err != nil {
		return nil, err
	}
	t := &instruction.Transfer{
		Meta:            meta,
		Partition:       token.Partition(j.Partition),
		From:            from,
		To:              to,
		Amount:          j.Amount,
		ClearingPayload: j.ClearingPayload,
	}
	if j.ClearingExpirationUs > 0 {
		t.ClearingExpiration = time.UnixMicro(j.ClearingExpirationUs)
	}
	return t, nil
}

type redeemJSON struct {
	metaJSON
	Partition            string `json:"partition,omitempty"`
	Holder               string `json:"holder"`
	Amount               int64  `json:"amount"`
	ClearingExpirationUs int64  `json:"clearing_expiration_us,omitempty"`
	ClearingPayload      []byte `json:"clearing_payload,omitempty"`
}

func parseRedeem(data []byte) (*instruction.Redeem, error) {
	var j redeemJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Redeem: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	holder, err := parseHolder("holder", j.Holder)
	if err != nil {
		return nil, err
	}
	r := &instruction.Redeem{
		Meta:            meta,
		Partition:       token.Partition(j.Partition),
		Holder:          holder,
		Amount:          j.Amount,
		ClearingPayload: j.ClearingPayload,
	}
	if j.ClearingExpirationUs > 0 {
		r.ClearingExpiration = time.UnixMicro(j.ClearingExpirationUs)
	}
	return r, nil
}

type redeemAtMaturityJSON struct {
	metaJSON
	Holder string `json:"holder"`
	Amount int64  `json:"amount"`
}

func parseRedeemAtMaturity(data []byte) (*instruction.RedeemAtMaturity, error) {
	var j redeemAtMaturityJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RedeemAtMaturity: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	holder, err := parseHolder("holder", j.Holder)
	if err != nil {
		return nil, err
	}
	return &instruction.RedeemAtMaturity{
		Meta:   meta,
		Holder: holder,
		Amount: j.Amount,
	}, nil
}

type holdCreateJSON struct {
	metaJSON
	Partition    string `json:"partition,omitempty"`
	Holder       string `json:"holder"`
	Amount       int64  `json:"amount"`
	ExpirationUs int64  `json:"expiration_us"`
	Escrow       string `json:"escrow"`
	Destination  string `json:"destination,omitempty"`
	ThirdParty   bool   `json:"third_party,omitempty"`
	Payload      []byte `json:"payload,omitempty"`
}

func parseHoldCreate(data []byte) (*instruction.HoldCreate, error) {
	var j holdCreateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse HoldCreate: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	holder, err := parseHolder("holder", j.Holder)
	if err != nil {
		return nil, err
	}
	escrow, err := parseHolder("escrow", j.Escrow)
	if err != nil {
		return nil, err
	}
	destination := token.NullHolder
	if j.Destination != "" {
		destination, err = parseHolder("destination", j.Destination)
		if err != nil {
			return nil, err
		}
	}
	return &instruction.HoldCreate{
		Meta:        meta,
		Partition:   token.Partition(j.Partition),
		Holder:      holder,
		Amount:      j.Amount,
		Expiration:  time.UnixMicro(j.ExpirationUs),
		Escrow:      escrow,
		Destination: destination,
		ThirdParty:  j.ThirdParty,
		Payload:     j.Payload,
	}, nil
}

type holdExecuteJSON struct {
	metaJSON
	Partition string `json:"partition,omitempty"`
	Holder    string `json:"holder"`
	HoldID    uint64 `json:"hold_id"`
	Amount    int64  `json:"amount"`
	To        string `json:"to,omitempty"`
}

func parseHoldExecute(data []byte) (*instruction.HoldExecute, error) {
	var j holdExecuteJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse HoldExecute: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	holder, err := parseHolder("holder", j.Holder)
	if err != nil {
		return nil, err
	}
	to := token.NullHolder
	if j.To != "" {
		to, err = parseHolder("to", j.To)
		if err != nil {
			return nil, err
		}
	}
	return &instruction.HoldExecute{
		Meta:      meta,
		Partition: token.Partition(j.Partition),
		Holder:    holder,
		HoldID:    j.HoldID,
		Amount:    j.Amount,
		To:        to,
	}, nil
}

type holdRefJSON struct {
	metaJSON
	Partition string `json:"partition,omitempty"`
	Holder    string `json:"holder"`
	HoldID    uint64 `json:"hold_id"`
}

func parseHoldRelease(data []byte) (*instruction.HoldRelease, error) {
	var j holdRefJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse HoldRelease: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	holder, err := parseHolder("holder", j.Holder)
	if err != nil {
		return nil, err
	}
	return &instruction.HoldRelease{
		Meta:      meta,
		Partition: token.Partition(j.Partition),
		Holder:    holder,
		HoldID:    j.HoldID,
	}, nil
}

func parseHoldReclaim(data []byte) (*instruction.HoldReclaim, error) {
	var j holdRefJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse HoldReclaim: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	holder, err := parseHolder("holder", j.Holder)
	if err != nil {
		return nil, err
	}
	return &instruction.HoldReclaim{
		Meta:      meta,
		Partition: token.Partition(j.Partition),
		Holder:    holder,
		HoldID:    j.HoldID,
	}, nil
}

type freezeJSON struct {
	metaJSON
	Partition string `json:"partition,omitempty"`
	Holder    string `json:"holder"`
	Amount    int64  `json:"amount"`
}

func parseFreeze(data []byte) (*instruction.Freeze, error) {
	var j freezeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Freeze: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	holder, err := parseHolder("holder", j.Holder)
	if err != nil {
		return nil, err
	}
	return &instruction.Freeze{
		Meta:      meta,
		Partition: token.Partition(j.Partition),
		Holder:    holder,
		Amount:    j.Amount,
	}, nil
}

func parseUnfreeze(data []byte) (*instruction.Unfreeze, error) {
	var j freezeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Unfreeze: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	holder, err := parseHolder("holder", j.Holder)
	if err != nil {
		return nil, err
	}
	return &instruction.Unfreeze{
		Meta:      meta,
		Partition: token.Partition(j.Partition),
		Holder:    holder,
		Amount:    j.Amount,
	}, nil
}

type batchTargetJSON struct {
	Partition string `json:"partition,omitempty"`
	Holder    string `json:"holder"`
	Amount    int64  `json:"amount"`
}

type freezeBatchJSON struct {
	metaJSON
	Targets []batchTargetJSON `json:"targets"`
}

func parseBatchTargets(targets []batchTargetJSON) ([]instruction.BatchTarget, error) {
	out := make([]instruction.BatchTarget, 0, len(targets))
	for i, t := range targets {
		holder, err := parseHolder(fmt.Sprintf("targets[%d].holder", i), t.Holder)
		if err != nil {
			return nil, err
		}
		out = append(out, instruction.BatchTarget{
			Partition: token.Partition(t.Partition),
			Holder:    holder,
			Amount:    t.Amount,
		})
	}
	return out, nil
}

func parseFreezeBatch(data []byte) (*instruction.FreezeBatch, error) {
	var j freezeBatchJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FreezeBatch: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	targets, err := parseBatchTargets(j.Targets)
	if err != nil {
		return nil, err
	}
	return &instruction.FreezeBatch{Meta: meta, Targets: targets}, nil
}

func parseUnfreezeBatch(data []byte) (*instruction.UnfreezeBatch, error) {
	var j freezeBatchJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse UnfreezeBatch: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	targets, err := parseBatchTargets(j.Targets)
	if err != nil {
		return nil, err
	}
	return &instruction.UnfreezeBatch{Meta: meta, Targets: targets}, nil
}

type clearingSetActiveJSON struct {
	metaJSON
	Active bool `json:"active"`
}

func parseClearingSetActive(data []byte) (*instruction.ClearingSetActive, error) {
	var j clearingSetActiveJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClearingSetActive: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	return &instruction.ClearingSetActive{Meta: meta, Active: j.Active}, nil
}

type clearingRefJSON struct {
	metaJSON
	Partition  string `json:"partition,omitempty"`
	Holder     string `json:"holder"`
	ClearingID uint64 `json:"clearing_id"`
}

func parseClearingApprove(data []byte) (*instruction.ClearingApprove, error) {
	var j clearingRefJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClearingApprove: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	holder, err := parseHolder("holder", j.Holder)
	if err != nil {
		return nil, err
	}
	return &instruction.ClearingApprove{
		Meta:       meta,
		Partition:  token.Partition(j.Partition),
		Holder:     holder,
		ClearingID: j.ClearingID,
	}, nil
}

func parseClearingReclaim(data []byte) (*instruction.ClearingReclaim, error) {
	var j clearingRefJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClearingReclaim: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	holder, err := parseHolder("holder", j.Holder)
	if err != nil {
		return nil, err
	}
	return &instruction.ClearingReclaim{
		Meta:       meta,
		Partition:  token.Partition(j.Partition),
		Holder:     holder,
		ClearingID: j.ClearingID,
	}, nil
}

type scheduleDividendJSON struct {
	metaJSON
	RecordDateUs    int64 `json:"record_date_us"`
	ExecutionDateUs int64 `json:"execution_date_us"`
	Amount          int64 `json:"amount"`
	Decimals        uint8 `json:"decimals,omitempty"`
}

func parseScheduleDividend(data []byte) (*instruction.ScheduleDividend, error) {
	var j scheduleDividendJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ScheduleDividend: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	return &instruction.ScheduleDividend{
		Meta:          meta,
		RecordDate:    time.UnixMicro(j.RecordDateUs),
		ExecutionDate: time.UnixMicro(j.ExecutionDateUs),
		Amount:        j.Amount,
		Decimals:      j.Decimals,
	}, nil
}

type scheduleVotingJSON struct {
	metaJSON
	RecordDateUs int64  `json:"record_date_us"`
	Ballot       []byte `json:"ballot,omitempty"`
}

func parseScheduleVoting(data []byte) (*instruction.ScheduleVoting, error) {
	var j scheduleVotingJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ScheduleVoting: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	return &instruction.ScheduleVoting{
		Meta:       meta,
		RecordDate: time.UnixMicro(j.RecordDateUs),
		Ballot:     j.Ballot,
	}, nil
}

type scheduleCouponJSON struct {
	metaJSON
	RecordDateUs    int64 `json:"record_date_us"`
	ExecutionDateUs int64 `json:"execution_date_us"`
	Rate            int64 `json:"rate"`
}

func parseScheduleCoupon(data []byte) (*instruction.ScheduleCoupon, error) {
	var j scheduleCouponJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ScheduleCoupon: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	return &instruction.ScheduleCoupon{
		Meta:          meta,
		RecordDate:    time.UnixMicro(j.RecordDateUs),
		ExecutionDate: time.UnixMicro(j.ExecutionDateUs),
		Rate:          j.Rate,
	}, nil
}

type scheduleAdjustmentJSON struct {
	metaJSON
	ExecutionDateUs int64 `json:"execution_date_us"`
	Factor          int64 `json:"factor"`
	Decimals        uint8 `json:"decimals,omitempty"`
}

func parseScheduleBalanceAdjustment(data []byte) (*instruction.ScheduleBalanceAdjustment, error) {
	var j scheduleAdjustmentJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ScheduleBalanceAdjustment: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	return &instruction.ScheduleBalanceAdjustment{
		Meta:          meta,
		ExecutionDate: time.UnixMicro(j.ExecutionDateUs),
		Factor:        j.Factor,
		Decimals:      j.Decimals,
	}, nil
}

type setPausedJSON struct {
	metaJSON
	Paused bool `json:"paused"`
}

func parseSetPaused(data []byte) (*instruction.SetPaused, error) {
	var j setPausedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SetPaused: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	return &instruction.SetPaused{Meta: meta, Paused: j.Paused}, nil
}

type roleJSON struct {
	metaJSON
	Account string `json:"account"`
	Role    string `json:"role"`
}

func parseGrantRole(data []byte) (*instruction.GrantRole, error) {
	var j roleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse GrantRole: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	account, err := parseHolder("account", j.Account)
	if err != nil {
		return nil, err
	}
	return &instruction.GrantRole{
		Meta:    meta,
		Account: account,
		Role:    token.Role(j.Role),
	}, nil
}

func parseRevokeRole(data []byte) (*instruction.RevokeRole, error) {
	var j roleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RevokeRole: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	account, err := parseHolder("account", j.Account)
	if err != nil {
		return nil, err
	}
	return &instruction.RevokeRole{
		Meta:    meta,
		Account: account,
		Role:    token.Role(j.Role),
	}, nil
}

type accountJSON struct {
	metaJSON
	Account string `json:"account"`
}

func parseKYCGrant(data []byte) (*instruction.KYCGrant, error) {
	var j accountJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse KYCGrant: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	account, err := parseHolder("account", j.Account)
	if err != nil {
		return nil, err
	}
	return &instruction.KYCGrant{Meta: meta, Account: account}, nil
}

func parseKYCRevoke(data []byte) (*instruction.KYCRevoke, error) {
	var j accountJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse KYCRevoke: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	account, err := parseHolder("account", j.Account)
	if err != nil {
		return nil, err
	}
	return &instruction.KYCRevoke{Meta: meta, Account: account}, nil
}

func parseControlListAdd(data []byte) (*instruction.ControlListAdd, error) {
	var j accountJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ControlListAdd: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	account, err := parseHolder("account", j.Account)
	if err != nil {
		return nil, err
	}
	return &instruction.ControlListAdd{Meta: meta, Account: account}, nil
}

func parseControlListRemove(data []byte) (*instruction.ControlListRemove, error) {
	var j accountJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ControlListRemove: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	account, err := parseHolder("account", j.Account)
	if err != nil {
		return nil, err
	}
	return &instruction.ControlListRemove{Meta: meta, Account: account}, nil
}
