package ingestion_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"SecTokenLedger/internal/ingestion"
	"SecTokenLedger/internal/instruction"
	"SecTokenLedger/internal/token"
)

const (
	testID       = "11111111-1111-1111-1111-111111111111"
	testOperator = "22222222-2222-2222-2222-222222222222"
	testHolderA  = "33333333-3333-3333-3333-333333333333"
	testHolderB  = "44444444-4444-4444-4444-444444444444"
)

func raw(data string) ingestion.RawInstruction {
	return ingestion.RawInstruction{Data: []byte(data)}
}

// metaFields is the JSON fragment shared by every wire payload.
func metaFields() string {
	return fmt.Sprintf(`"instruction_id":%q,"operator":%q,"timestamp_us":1700000000000000`, testID, testOperator)
}

func TestParseTransfer(t *testing.T) {
	data := fmt.Sprintf(`{%s,"partition":"tranche-a","from":%q,"to":%q,"amount":500}`,
		metaFields(), testHolderA, testHolderB)

	ins, err := ingestion.ParseRawInstruction(raw(data), "Transfer")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	tr, ok := ins.(*instruction.Transfer)
	if !ok {
		t.Fatalf("got %T, want *instruction.Transfer", ins)
	}
	if tr.IdempotencyKey() != testID {
		t.Errorf("idempotency key: got %q, want %q", tr.IdempotencyKey(), testID)
	}
	if tr.By() != uuid.MustParse(testOperator) {
		t.Errorf("operator: got %s", tr.By())
	}
	if tr.When() != time.UnixMicro(1700000000000000) {
		t.Errorf("timestamp: got %v", tr.When())
	}
	if tr.Partition != "tranche-a" || tr.Amount != 500 {
		t.Errorf("payload: partition=%q amount=%d", tr.Partition, tr.Amount)
	}
	if tr.From != uuid.MustParse(testHolderA) || tr.To != uuid.MustParse(testHolderB) {
		t.Errorf("holders: from=%s to=%s", tr.From, tr.To)
	}
	// No clearing_expiration_us means zero expiration.
	if !tr.ClearingExpiration.IsZero() {
		t.Errorf("clearing expiration: got %v, want zero", tr.ClearingExpiration)
	}
}

func TestParseTransfer_ClearingExpiration(t *testing.T) {
	data := fmt.Sprintf(`{%s,"from":%q,"to":%q,"amount":500,"clearing_expiration_us":1700000999000000}`,
		metaFields(), testHolderA, testHolderB)

	ins, err := ingestion.ParseRawInstruction(raw(data), "Transfer")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	tr := ins.(*instruction.Transfer)
	if tr.ClearingExpiration != time.UnixMicro(1700000999000000) {
		t.Errorf("clearing expiration: got %v", tr.ClearingExpiration)
	}
}

func TestParseHoldCreate_OpenDestination(t *testing.T) {
	data := fmt.Sprintf(`{%s,"holder":%q,"amount":400,"expiration_us":1700000500000000,"escrow":%q,"third_party":true}`,
		metaFields(), testHolderA, testHolderB)

	ins, err := ingestion.ParseRawInstruction(raw(data), "HoldCreate")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	hc := ins.(*instruction.HoldCreate)
	if hc.Escrow != uuid.MustParse(testHolderB) {
		t.Errorf("escrow: got %s", hc.Escrow)
	}
	// Absent destination leaves the beneficiary open.
	if hc.Destination != token.NullHolder {
		t.Errorf("destination: got %s, want NullHolder", hc.Destination)
	}
	if !hc.ThirdParty {
		t.Error("third_party flag lost")
	}
	if hc.Expiration != time.UnixMicro(1700000500000000) {
		t.Errorf("expiration: got %v", hc.Expiration)
	}
}

func TestParseFreezeBatch(t *testing.T) {
	data := fmt.Sprintf(`{%s,"targets":[{"holder":%q,"amount":100},{"partition":"tranche-a","holder":%q,"amount":200}]}`,
		metaFields(), testHolderA, testHolderB)

	ins, err := ingestion.ParseRawInstruction(raw(data), "FreezeBatch")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	fb := ins.(*instruction.FreezeBatch)
	if len(fb.Targets) != 2 {
		t.Fatalf("targets: got %d, want 2", len(fb.Targets))
	}
	if fb.Targets[0].Holder != uuid.MustParse(testHolderA) || fb.Targets[0].Amount != 100 {
		t.Errorf("target 0: %+v", fb.Targets[0])
	}
	if fb.Targets[1].Partition != "tranche-a" || fb.Targets[1].Amount != 200 {
		t.Errorf("target 1: %+v", fb.Targets[1])
	}
}

func TestParseScheduleDividend(t *testing.T) {
	data := fmt.Sprintf(`{%s,"record_date_us":1700001000000000,"execution_date_us":1700002000000000,"amount":5000,"decimals":2}`,
		metaFields())

	ins, err := ingestion.ParseRawInstruction(raw(data), "ScheduleDividend")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sd := ins.(*instruction.ScheduleDividend)
	if sd.RecordDate != time.UnixMicro(1700001000000000) {
		t.Errorf("record date: got %v", sd.RecordDate)
	}
	if sd.ExecutionDate != time.UnixMicro(1700002000000000) {
		t.Errorf("execution date: got %v", sd.ExecutionDate)
	}
	if sd.Amount != 5000 || sd.Decimals != 2 {
		t.Errorf("amount: got %d/%d, want 5000/2", sd.Amount, sd.Decimals)
	}
}

func TestParseGrantRole(t *testing.T) {
	data := fmt.Sprintf(`{%s,"account":%q,"role":"issuer"}`, metaFields(), testHolderA)

	ins, err := ingestion.ParseRawInstruction(raw(data), "GrantRole")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	gr := ins.(*instruction.GrantRole)
	if gr.Account != uuid.MustParse(testHolderA) || gr.Role != token.RoleIssuer {
		t.Errorf("got account=%s role=%q", gr.Account, gr.Role)
	}
}

func TestParse_BadOperatorRejected(t *testing.T) {
	data := fmt.Sprintf(`{"instruction_id":%q,"operator":"not-a-uuid","timestamp_us":1,"to":%q,"amount":1}`,
		testID, testHolderA)

	if _, err := ingestion.ParseRawInstruction(raw(data), "Issue"); err == nil {
		t.Error("expected error for malformed operator, got nil")
	}
}

func TestParse_UnknownTypeRejected(t *testing.T) {
	if _, err := ingestion.ParseRawInstruction(raw(`{}`), "Teleport"); err == nil {
		t.Error("expected error for unknown instruction type, got nil")
	}
}

func TestInstructionTypeForSubject(t *testing.T) {
	subjects := ingestion.DefaultSubjects()

	cases := []struct {
		subject string
		want    string
	}{
		{"stl.supply.issue.asset1", "Issue"},
		{"stl.supply.transfer.asset1", "Transfer"},
		{"stl.holds.create.asset1", "HoldCreate"},
		{"stl.freezes.freeze_batch.asset1", "FreezeBatch"},
		{"stl.admin.pause.asset1", "SetPaused"},
		{"stl.unknown.subject", ""},
	}
	for _, c := range cases {
		if got := ingestion.InstructionTypeForSubject(c.subject, subjects); got != c.want {
			t.Errorf("%s: got %q, want %q", c.subject, got, c.want)
		}
	}
}

func TestDecode_RoundTripsEnvelopePayload(t *testing.T) {
	// Wire parse, core-side encode, replay-side decode.
	data := fmt.Sprintf(`{%s,"from":%q,"to":%q,"amount":500}`, metaFields(), testHolderA, testHolderB)
	ins, err := ingestion.ParseRawInstruction(raw(data), "Transfer")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	typ := instruction.ParseType(ins.InstructionType().String())
	if typ != instruction.TypeTransfer {
		t.Fatalf("type round-trip: got %d", typ)
	}

	payload, err := json.Marshal(ins)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := instruction.Decode(typ, payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	tr := decoded.(*instruction.Transfer)
	orig := ins.(*instruction.Transfer)
	if tr.From != orig.From || tr.To != orig.To || tr.Amount != orig.Amount {
		t.Errorf("decoded transfer diverges: %+v", tr)
	}
	if tr.IdempotencyKey() != orig.IdempotencyKey() {
		t.Errorf("idempotency key: got %q, want %q", tr.IdempotencyKey(), orig.IdempotencyKey())
	}
}
