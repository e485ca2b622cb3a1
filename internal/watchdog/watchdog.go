// Package watchdog implements the deadman switch that backstops the
// node. The tick loop services the switch on every healthy pass; if the
// core livelocks and the window expires, the node is forcibly
// restarted, discarding volatile state but never the durable identity.
// On sensor hardware this is the MCU watchdog; host builds use the
// software timer in this package with the same contract.
package watchdog

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

// Deadman is the switch contract. Arm it with a window and service it
// periodically to stay alive; stop servicing and the node restarts.
// Disarm exists only for supervised retry sequences that may
// legitimately outlast the window, and is always followed by a re-arm.
type Deadman interface {
	Arm(timeout time.Duration)
	Disarm()
	Service()
}

// Soft is a software deadman for host builds. When the armed window
// expires unserviced it invokes its restart function, which by default
// terminates the process so the service manager brings it back up.
type Soft struct {
	log     *slog.Logger
	restart func()

	mu      sync.Mutex
	timer   *time.Timer
	timeout time.Duration
	armed   bool
}

// NewSoft returns a software deadman. A nil restart means exit the
// process with a distinctive status.
func NewSoft(log *slog.Logger, restart func()) *Soft {
	if restart == nil {
		restart = func() { os.Exit(70) }
	}
	return &Soft{log: log, restart: restart}
}

// Arm starts (or restarts) the window. Arming an already-armed switch
// simply resets it with the new timeout.
func (s *Soft) Arm(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timeout = timeout
	s.armed = true
	if s.timer == nil {
		s.timer = time.AfterFunc(timeout, s.fire)
		return
	}
	s.timer.Stop()
	s.timer.Reset(timeout)
}

// Disarm stops the window without firing.
func (s *Soft) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.armed = false
	if s.timer != nil {
		s.timer.Stop()
	}
}

// Service pushes the expiry a full window into the future. Servicing a
// disarmed switch does nothing.
func (s *Soft) Service() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.armed || s.timer == nil {
		return
	}
	s.timer.Stop()
	s.timer.Reset(s.timeout)
}

func (s *Soft) fire() {
	s.mu.Lock()
	armed := s.armed
	timeout := s.timeout
	s.mu.Unlock()

	// Disarm may have raced the timer; a disarmed switch never fires.
	if !armed {
		return
	}
	s.log.Error("deadman switch expired, forcing restart", "timeout", timeout)
	s.restart()
}

// Nop is a deadman that never fires, for configurations that disable
// the watchdog and for tests of code that services one.
type Nop struct{}

func (Nop) Arm(time.Duration) {}
func (Nop) Disarm()           {}
func (Nop) Service()          {}
