package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds instructions
// into the deterministic core via the instruction channel. NATS JetStream is
// the primary high-throughput ingestion surface; each subject maps to one
// instruction type.
type NATSSubscriber struct {
	js        jetstream.JetStream
	rawChan   chan<- RawInstruction
	consumers []jetstream.ConsumeContext
}

// RawInstruction is the received-but-untyped instruction from NATS, ready for
// the shell to validate and convert into a typed instruction before sending
// to the core.
type RawInstruction struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps NATS subjects to instruction types.
type SubjectConfig struct {
	Subject         string
	InstructionType string
	ConsumerName    string
	StreamName      string
}

// DefaultSubjects returns the standard subject configuration. Supply
// movements get their own stream; administrative traffic shares one.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "stl.supply.issue.>", InstructionType: "Issue", ConsumerName: "ledger-issue", StreamName: "STL_SUPPLY"},
		{Subject: "stl.supply.transfer.>", InstructionType: "Transfer", ConsumerName: "ledger-transfer", StreamName: "STL_SUPPLY"},
		{Subject: "stl.supply.redeem.>", InstructionType: "Redeem", ConsumerName: "ledger-redeem", StreamName: "STL_SUPPLY"},
		{Subject: "stl.supply.redeem_maturity.>", InstructionType: "RedeemAtMaturity", ConsumerName: "ledger-redeem-maturity", StreamName: "STL_SUPPLY"},
		{Subject: "stl.holds.create.>", InstructionType: "HoldCreate", ConsumerName: "ledger-hold-create", StreamName: "STL_HOLDS"},
		{Subject: "stl.holds.execute.>", InstructionType: "HoldExecute", ConsumerName: "ledger-hold-execute", StreamName: "STL_HOLDS"},
		{Subject: "stl.holds.release.>", InstructionType: "HoldRelease", ConsumerName: "ledger-hold-release", StreamName: "STL_HOLDS"},
		{Subject: "stl.holds.reclaim.>", InstructionType: "HoldReclaim", ConsumerName: "ledger-hold-reclaim", StreamName: "STL_HOLDS"},
		{Subject: "stl.freezes.freeze.>", InstructionType: "Freeze", ConsumerName: "ledger-freeze", StreamName: "STL_FREEZES"},
		{Subject: "stl.freezes.unfreeze.>", InstructionType: "Unfreeze", ConsumerName: "ledger-unfreeze", StreamName: "STL_FREEZES"},
		{Subject: "stl.freezes.freeze_batch.>", InstructionType: "FreezeBatch", ConsumerName: "ledger-freeze-batch", StreamName: "STL_FREEZES"},
		{Subject: "stl.freezes.unfreeze_batch.>", InstructionType: "UnfreezeBatch", ConsumerName: "ledger-unfreeze-batch", StreamName: "STL_FREEZES"},
		{Subject: "stl.clearing.set_active.>", InstructionType: "ClearingSetActive", ConsumerName: "ledger-clearing-toggle", StreamName: "STL_CLEARING"},
		{Subject: "stl.clearing.approve.>", InstructionType: "ClearingApprove", ConsumerName: "ledger-clearing-approve", StreamName: "STL_CLEARING"},
		{Subject: "stl.clearing.reclaim.>", InstructionType: "ClearingReclaim", ConsumerName: "ledger-clearing-reclaim", StreamName: "STL_CLEARING"},
		{Subject: "stl.corporate.dividend.>", InstructionType: "ScheduleDividend", ConsumerName: "ledger-dividend", StreamName: "STL_CORPORATE"},
		{Subject: "stl.corporate.voting.>", InstructionType: "ScheduleVoting", ConsumerName: "ledger-voting", StreamName: "STL_CORPORATE"},
		{Subject: "stl.corporate.coupon.>", InstructionType: "ScheduleCoupon", ConsumerName: "ledger-coupon", StreamName: "STL_CORPORATE"},
		{Subject: "stl.corporate.adjustment.>", InstructionType: "ScheduleBalanceAdjustment", ConsumerName: "ledger-adjustment", StreamName: "STL_CORPORATE"},
		{Subject: "stl.admin.pause.>", InstructionType: "SetPaused", ConsumerName: "ledger-pause", StreamName: "STL_ADMIN"},
		{Subject: "stl.admin.grant_role.>", InstructionType: "GrantRole", ConsumerName: "ledger-grant-role", StreamName: "STL_ADMIN"},
		{Subject: "stl.admin.revoke_role.>", InstructionType: "RevokeRole", ConsumerName: "ledger-revoke-role", StreamName: "STL_ADMIN"},
		{Subject: "stl.admin.kyc_grant.>", InstructionType: "KYCGrant", ConsumerName: "ledger-kyc-grant", StreamName: "STL_ADMIN"},
		{Subject: "stl.admin.kyc_revoke.>", InstructionType: "KYCRevoke", ConsumerName: "ledger-kyc-revoke", StreamName: "STL_ADMIN"},
		{Subject: "stl.admin.control_add.>", InstructionType: "ControlListAdd", ConsumerName: "ledger-control-add", StreamName: "STL_ADMIN"},
		{Subject: "stl.admin.control_remove.>", InstructionType: "ControlListRemove", ConsumerName: "ledger-control-remove", StreamName: "STL_ADMIN"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, rawChan chan<- RawInstruction) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		rawChan: rawChan,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawInstruction{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.rawChan <- raw:
				// Successfully queued for processing
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		log.Printf("INFO: subscribed to %s (consumer=%s)", cfg.Subject, cfg.ConsumerName)
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "STL_SUPPLY",
			Subjects:  []string{"stl.supply.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "STL_HOLDS",
			Subjects:  []string{"stl.holds.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "STL_FREEZES",
			Subjects:  []string{"stl.freezes.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "STL_CLEARING",
			Subjects:  []string{"stl.clearing.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "STL_CORPORATE",
			Subjects:  []string{"stl.corporate.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "STL_ADMIN",
			Subjects:  []string{"stl.admin.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured stream %s", cfg.Name)
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	log.Println("INFO: NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
