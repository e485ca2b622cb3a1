// Package session implements the device lifecycle state machine: the
// sequence that takes a freshly booted node from unconfigured to
// actively reporting, and the fault discipline that governs it. The
// machine advances on a fixed external tick inside a single execution
// context; collaborators with goroutines of their own (the transport
// router, the deadman timer) communicate inward only through channels,
// so no machine state ever needs a lock.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/airshed-labs/co2node/internal/events"
	"github.com/airshed-labs/co2node/internal/identity"
	"github.com/airshed-labs/co2node/internal/indicator"
	"github.com/airshed-labs/co2node/internal/netlink"
	"github.com/airshed-labs/co2node/internal/sample"
	"github.com/airshed-labs/co2node/internal/sensor"
	"github.com/airshed-labs/co2node/internal/supervisor"
	"github.com/airshed-labs/co2node/internal/wire"
)

// Phase is the lifecycle discriminator. Transitions only move forward;
// the sole way back is a node restart.
type Phase uint8

const (
	// PhaseAwaitNetwork covers boot until the network link and the
	// transport session are up.
	PhaseAwaitNetwork Phase = iota
	// PhaseAwaitConfig covers pairing: subscribe to the per-device
	// config topic, announce, and wait for an operator to push a
	// runtime configuration.
	PhaseAwaitConfig
	// PhaseReporting is steady state: sample, aggregate, publish.
	PhaseReporting
	// PhaseHalted is terminal. The machine does no further work, the
	// run loop stops servicing the deadman, and the deadman restarts
	// the node.
	PhaseHalted
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitNetwork:
		return "await_network"
	case PhaseAwaitConfig:
		return "await_config"
	case PhaseReporting:
		return "reporting"
	case PhaseHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// Transport is the publish/subscribe boundary the machine drives. All
// results are bare booleans; causes live in the transport's own logs.
// Inbox delivers payloads received on subscribed topics; the machine
// drains it at the top of every tick, which keeps inbound handling in
// the single execution context.
type Transport interface {
	Connect(ctx context.Context) bool
	Publish(topic string, payload []byte) bool
	Subscribe(topic string) bool
	IsAlive() bool
	Drop()
	Inbox() <-chan []byte
}

// Config carries the node-local machine parameters. The operating
// RuntimeConfig is deliberately absent: it arrives over the wire during
// pairing and is never persisted.
type Config struct {
	// TickPeriod is the scheduler period all wire intervals are
	// converted against. The conversion truncates; a 75ms interval at
	// a 50ms tick is one tick.
	TickPeriod time.Duration

	// SSID and Passphrase are handed through to the network joiner.
	SSID       string
	Passphrase string

	// SubscribeAttempts bounds config-topic subscribe retries;
	// SubscribeGate is the pause between consecutive attempts.
	SubscribeAttempts int
	SubscribeGate     time.Duration

	// SettleDelay is the wait between subscribing and announcing, long
	// enough for the subscription to take effect server-side before
	// the backend reacts to the announcement.
	SettleDelay time.Duration

	// PairingTimeout bounds the whole AwaitConfig phase.
	PairingTimeout time.Duration

	// PublishAttempts bounds report publish retries within one cycle.
	PublishAttempts int
}

func (c *Config) applyDefaults() {
	if c.TickPeriod <= 0 {
		c.TickPeriod = 50 * time.Millisecond
	}
	if c.SubscribeAttempts < 1 {
		c.SubscribeAttempts = 5
	}
	if c.SubscribeGate <= 0 {
		c.SubscribeGate = 500 * time.Millisecond
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.PairingTimeout <= 0 {
		c.PairingTimeout = 90 * time.Second
	}
	if c.PublishAttempts < 1 {
		c.PublishAttempts = 3
	}
}

// Deps wires the machine's collaborators. Using a struct avoids a
// growing parameter list as the node evolves. Bus may be nil.
type Deps struct {
	Transport  Transport
	Joiner     netlink.Joiner
	Sensor     sensor.Sensor
	Supervisor *supervisor.Supervisor
	Indicator  *indicator.Driver
	Logger     *slog.Logger
	Bus        *events.Bus
}

// Machine is the session state machine. Exactly one tick loop owns it;
// it is not safe for concurrent use and does not need to be.
type Machine struct {
	cfg  Config
	id   identity.Identity
	deps Deps

	phase Phase
	agg   sample.Aggregator

	// Pairing sequence state, reset when AwaitConfig is entered.
	confTopic   string
	subscribed  bool
	subAttempts int
	announced   bool
	gateLeft    int
	pairingLeft int

	// Reporting state, reset when a configuration is adopted.
	runtime    wire.RuntimeConfig
	sampleGap  int
	sampleLeft int
	inHighBand bool

	restartReason string
}

// New assembles a machine in PhaseAwaitNetwork.
func New(cfg Config, id identity.Identity, deps Deps) *Machine {
	if deps.Transport == nil || deps.Joiner == nil || deps.Sensor == nil ||
		deps.Supervisor == nil || deps.Indicator == nil {
		panic("session: New requires transport, joiner, sensor, supervisor, and indicator")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cfg.applyDefaults()

	return &Machine{
		cfg:       cfg,
		id:        id,
		deps:      deps,
		confTopic: wire.ConfTopic(id.TopicSuffix()),
	}
}

// Phase reports the current lifecycle phase.
func (m *Machine) Phase() Phase {
	return m.phase
}

// Halted reports whether the machine has gone terminal. Once true, the
// run loop must stop servicing the deadman and let it restart the node.
func (m *Machine) Halted() bool {
	return m.phase == PhaseHalted
}

// RestartReason reports why the machine went terminal, for the final
// log line. Empty while the machine is live.
func (m *Machine) RestartReason() string {
	return m.restartReason
}

// ConfTopic reports the per-device configuration topic, derived from
// the identity once at construction.
func (m *Machine) ConfTopic() string {
	return m.confTopic
}

// Tick advances the machine one scheduler tick. elapsed is the real
// time since the previous call and drives the indicator's pulse
// timing; all phase logic advances on tick counts.
func (m *Machine) Tick(ctx context.Context, elapsed time.Duration) {
	if m.phase == PhaseHalted {
		return
	}

	phase := m.phase
	m.drainInbox()
	if m.phase == PhaseHalted {
		return
	}
	if m.phase != phase {
		// A phase entered mid-drain starts its work on the next tick,
		// so the first sample lands a full interval after adoption.
		m.deps.Indicator.Tick(elapsed)
		return
	}

	switch m.phase {
	case PhaseAwaitNetwork:
		m.tickAwaitNetwork(ctx)
	case PhaseAwaitConfig:
		m.tickAwaitConfig()
	case PhaseReporting:
		m.tickReporting(ctx)
	}

	m.deps.Indicator.Tick(elapsed)
}

// drainInbox consumes every payload the transport queued since the
// previous tick.
func (m *Machine) drainInbox() {
	for {
		select {
		case p := <-m.deps.Transport.Inbox():
			m.handlePayload(p)
			if m.phase == PhaseHalted {
				return
			}
		default:
			return
		}
	}
}

// handlePayload dispatches one inbound payload by byte length alone:
// a config-sized payload is adopted during pairing and is a protocol
// violation afterwards; the short sentinel is an operator reboot
// request in any phase; every other length is ignored. The protocol
// carries no envelope or version, so length is the whole contract.
func (m *Machine) handlePayload(p []byte) {
	switch len(p) {
	case wire.RebootSize:
		m.restart("operator reboot request")

	case wire.ConfigSize:
		if m.phase != PhaseAwaitConfig {
			// An operator replacing a live config must accept a
			// restart; hot-swapping risks partially applied state.
			m.restart("configuration received while reporting")
			return
		}
		rc, err := wire.DecodeRuntimeConfig(p)
		if err != nil {
			return
		}
		m.adopt(rc)

	default:
		m.deps.Logger.Debug("ignoring payload of unexpected length", "bytes", len(p))
	}
}

// ticksFor converts a real-time interval into scheduler ticks.
func (m *Machine) ticksFor(d time.Duration) int {
	return int(d / m.cfg.TickPeriod)
}

func (m *Machine) setPhase(p Phase) {
	from := m.phase
	m.phase = p
	m.deps.Logger.Info("session phase change", "from", from.String(), "to", p.String())
	m.deps.Bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceSession,
		Kind:      events.KindPhaseChange,
		Data:      map[string]any{"from": from.String(), "to": p.String()},
	})
}

// restart goes terminal. There is no in-process recovery from here; a
// restart plus re-pairing is cheaper and safer than partial state
// repair.
func (m *Machine) restart(reason string) {
	m.restartReason = reason
	m.deps.Logger.Error("session fatal, requesting restart", "reason", reason)
	m.setPhase(PhaseHalted)
	m.deps.Bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceSession,
		Kind:      events.KindRestartRequested,
		Data:      map[string]any{"reason": reason},
	})
}
