// Package supervisor implements the bounded retry discipline around
// the node's two network bring-up operations: joining the network and
// connecting the transport session. Failures are retried a fixed number
// of times with a fixed short pause; running out of attempts escalates
// to a node restart rather than retrying forever. The deadman switch is
// disarmed while a retry sequence runs, because a full sequence may
// legitimately outlast the deadman window, and re-armed the moment the
// sequence ends either way.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/airshed-labs/co2node/internal/events"
	"github.com/airshed-labs/co2node/internal/watchdog"
)

// Policy bounds one supervised operation.
type Policy struct {
	// MaxAttempts is the number of tries before escalating. Must be at
	// least 1.
	MaxAttempts int
	// Delay is the fixed pause between consecutive attempts.
	Delay time.Duration
}

// DefaultPolicy matches the firmware's short-fixed-delay discipline.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, Delay: 3 * time.Second}
}

// Supervisor runs operations under a policy with deadman choreography.
type Supervisor struct {
	policy  Policy
	deadman watchdog.Deadman
	window  time.Duration
	log     *slog.Logger
	bus     *events.Bus
}

// New creates a supervisor. window is the deadman window re-armed after
// every sequence. The bus may be nil.
func New(policy Policy, deadman watchdog.Deadman, window time.Duration, log *slog.Logger, bus *events.Bus) *Supervisor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Supervisor{
		policy:  policy,
		deadman: deadman,
		window:  window,
		log:     log,
		bus:     bus,
	}
}

// Run attempts op until it succeeds or the policy is exhausted, pausing
// the fixed delay between tries. It reports false when attempts ran out
// or ctx was cancelled; the caller escalates a false return to a
// restart. The deadman is disarmed for the whole sequence and re-armed
// on the way out, so a sequence that hangs inside op is still caught
// once control returns. A sequence that never returns at all is the one
// case the deadman cannot see, which is why op implementations must
// bound their own blocking.
func (s *Supervisor) Run(ctx context.Context, name string, op func(context.Context) bool) bool {
	if name == "" {
		panic("supervisor: Run requires a name")
	}
	if op == nil {
		panic("supervisor: Run requires an operation")
	}

	s.deadman.Disarm()
	defer s.deadman.Arm(s.window)

	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		s.log.Debug("supervised attempt", "op", name, "attempt", attempt, "max", s.policy.MaxAttempts)
		s.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceSupervisor,
			Kind:      events.KindRetryAttempt,
			Data:      map[string]any{"op": name, "attempt": attempt, "max": s.policy.MaxAttempts},
		})

		if op(ctx) {
			if attempt > 1 {
				s.log.Info("supervised operation recovered", "op", name, "attempt", attempt)
			}
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if attempt < s.policy.MaxAttempts {
			if !sleepCtx(ctx, s.policy.Delay) {
				return false
			}
		}
	}

	s.log.Warn("supervised operation exhausted its attempts",
		"op", name, "attempts", s.policy.MaxAttempts)
	s.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceSupervisor,
		Kind:      events.KindRetryExhausted,
		Data:      map[string]any{"op": name, "attempts": s.policy.MaxAttempts},
	})
	return false
}

// sleepCtx sleeps for d or until ctx is done, reporting false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
