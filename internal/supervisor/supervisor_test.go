package supervisor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// testPolicy keeps retries fast enough for tests.
func testPolicy() Policy {
	return Policy{MaxAttempts: 3, Delay: 10 * time.Millisecond}
}

// seqDeadman records the order of deadman calls.
type seqDeadman struct {
	mu  sync.Mutex
	ops []string
}

func (d *seqDeadman) Arm(time.Duration) { d.record("arm") }
func (d *seqDeadman) Disarm()           { d.record("disarm") }
func (d *seqDeadman) Service()          { d.record("service") }

func (d *seqDeadman) record(op string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = append(d.ops, op)
}

func (d *seqDeadman) calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ops...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSupervisor(deadman *seqDeadman) *Supervisor {
	return New(testPolicy(), deadman, time.Second, quietLogger(), nil)
}

func TestRunSucceedsFirstTry(t *testing.T) {
	t.Parallel()
	s := testSupervisor(&seqDeadman{})

	attempts := 0
	ok := s.Run(context.Background(), "join", func(context.Context) bool {
		attempts++
		return true
	})

	if !ok {
		t.Fatal("Run = false for an operation that succeeds")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s := testSupervisor(&seqDeadman{})

	attempts := 0
	ok := s.Run(context.Background(), "connect", func(context.Context) bool {
		attempts++
		return attempts >= 3
	})

	if !ok {
		t.Fatal("Run = false for an operation that eventually succeeds")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRunExhaustsExactly(t *testing.T) {
	t.Parallel()
	s := testSupervisor(&seqDeadman{})

	// Always failing must burn exactly MaxAttempts, not more, not fewer.
	attempts := 0
	ok := s.Run(context.Background(), "connect", func(context.Context) bool {
		attempts++
		return false
	})

	if ok {
		t.Fatal("Run = true for an operation that always fails")
	}
	if attempts != testPolicy().MaxAttempts {
		t.Errorf("attempts = %d, want exactly %d", attempts, testPolicy().MaxAttempts)
	}
}

func TestRunDeadmanChoreography(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name    string
		succeed bool
	}{
		{"success", true},
		{"exhaustion", false},
	} {
		deadman := &seqDeadman{}
		s := testSupervisor(deadman)

		s.Run(context.Background(), "join", func(context.Context) bool { return tc.succeed })

		calls := deadman.calls()
		if len(calls) != 2 || calls[0] != "disarm" || calls[1] != "arm" {
			t.Errorf("%s: deadman calls = %v, want [disarm arm]", tc.name, calls)
		}
	}
}

func TestRunContextCancelled(t *testing.T) {
	t.Parallel()
	deadman := &seqDeadman{}
	s := New(Policy{MaxAttempts: 100, Delay: 50 * time.Millisecond}, deadman, time.Second, quietLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	ok := s.Run(ctx, "join", func(context.Context) bool {
		attempts++
		return false
	})

	if ok {
		t.Fatal("Run = true after cancellation")
	}
	if attempts >= 100 {
		t.Errorf("attempts = %d, want early stop", attempts)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run took %v after cancellation", elapsed)
	}

	// The deadman still gets re-armed on the way out.
	calls := deadman.calls()
	if len(calls) == 0 || calls[len(calls)-1] != "arm" {
		t.Errorf("deadman calls = %v, want trailing arm", calls)
	}
}

func TestRunPanicsOnMisuse(t *testing.T) {
	t.Parallel()
	s := testSupervisor(&seqDeadman{})

	mustPanic := func(name string, fn func()) {
		defer func() {
			if recover() == nil {
				t.Errorf("%s: expected panic", name)
			}
		}()
		fn()
	}

	mustPanic("empty name", func() {
		s.Run(context.Background(), "", func(context.Context) bool { return true })
	})
	mustPanic("nil op", func() {
		s.Run(context.Background(), "join", nil)
	})
}

func TestMinimumOneAttempt(t *testing.T) {
	t.Parallel()
	s := New(Policy{MaxAttempts: 0, Delay: time.Millisecond}, &seqDeadman{}, time.Second, quietLogger(), nil)

	attempts := 0
	s.Run(context.Background(), "join", func(context.Context) bool {
		attempts++
		return false
	})
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 for a zero-attempt policy", attempts)
	}
}
