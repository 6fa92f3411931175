package core

import (
	"context"

	"github.com/rs/zerolog"

	"SecTokenLedger/internal/instruction"
)

// Runner owns the core goroutine. Every instruction source (NATS, gRPC,
// HTTP) and every state query funnels through its channels, so Engine state
// is only ever touched from one goroutine.
type Runner struct {
	engine       *Engine
	instructions chan instruction.Instruction
	queries      chan func(*Engine)
	log          zerolog.Logger
}

func NewRunner(engine *Engine, bufSize int, log zerolog.Logger) *Runner {
	if bufSize <= 0 {
		bufSize = 4096
	}
	return &Runner{
		engine:       engine,
		instructions: make(chan instruction.Instruction, bufSize),
		queries:      make(chan func(*Engine), 64),
		log:          log,
	}
}

// Submit enqueues an instruction for processing. Blocks when the channel is
// full — backpressure propagates to the caller.
func (r *Runner) Submit(ctx context.Context, ins instruction.Instruction) error {
	select {
	case r.instructions <- ins:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Query runs fn on the core goroutine and waits for it to finish. fn must
// only read engine state.
func (r *Runner) Query(ctx context.Context, fn func(*Engine)) error {
	done := make(chan struct{})
	wrapped := func(e *Engine) {
		fn(e)
		close(done)
	}
	select {
	case r.queries <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains instructions and queries until the context is cancelled.
// Rejections are logged, not fatal — the submitter already got no envelope.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ins := <-r.instructions:
			if err := r.engine.Process(ins); err != nil {
				r.log.Warn().
					Str("instruction_type", ins.InstructionType().String()).
					Str("idempotency_key", ins.IdempotencyKey()).
					Err(err).
					Msg("instruction rejected")
			}
		case q := <-r.queries:
			q(r.engine)
		}
	}
}
