package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// OutboundPublisher publishes applied instructions to NATS for downstream
// consumers (transfer agents, reporting, reconciliation). Outbound messages
// are published after persistence is confirmed.
// Subjects follow the pattern: stl.ledger.applied.{instruction_type}
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableInstruction
}

// PublishableInstruction is an applied instruction ready for outbound
// publishing.
type PublishableInstruction struct {
	Sequence        int64       `json:"sequence"`
	InstructionType string      `json:"instruction_type"`
	IdempotencyKey  string      `json:"idempotency_key"`
	Operator        string      `json:"operator"`
	Payload         interface{} `json:"payload"`
	StateHash       []byte      `json:"state_hash"`
	Timestamp       time.Time   `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableInstruction) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ins, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, ins); err != nil {
				log.Printf("WARN: outbound publish failed seq=%d: %v", ins.Sequence, err)
				// Non-fatal: downstream consumers can query the instruction log directly
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, ins PublishableInstruction) error {
	data, err := json.Marshal(ins)
	if err != nil {
		return fmt.Errorf("marshal instruction: %w", err)
	}

	subject := fmt.Sprintf("stl.ledger.applied.%s", ins.InstructionType)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound instruction stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "STL_LEDGER_APPLIED",
		Subjects:  []string{"stl.ledger.applied.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream STL_LEDGER_APPLIED")
	return nil
}
