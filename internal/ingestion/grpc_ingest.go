package ingestion

import (
	"context"

	"SecTokenLedger/internal/instruction"
)

// GRPCIngestService provides admin/manual instruction injection via gRPC and
// the HTTP gateway. This surface is for operator tooling and low-volume
// administrative traffic, not high-throughput ingestion (use NATS for that).
type GRPCIngestService struct {
	instructionChan chan<- instruction.Instruction
}

func NewGRPCIngestService(instructionChan chan<- instruction.Instruction) *GRPCIngestService {
	return &GRPCIngestService{instructionChan: instructionChan}
}

// Submit parses a raw JSON payload into the named instruction type and
// enqueues it for the core. Blocks when the channel is full so backpressure
// reaches the gRPC caller.
func (s *GRPCIngestService) Submit(ctx context.Context, instructionType string, payload []byte) error {
	ins, err := ParseRawInstruction(RawInstruction{Data: payload}, instructionType)
	if err != nil {
		return err
	}

	select {
	case s.instructionChan <- ins:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InstructionChan exposes the channel for callers that already hold a typed
// instruction.
func (s *GRPCIngestService) InstructionChan() chan<- instruction.Instruction {
	return s.instructionChan
}
