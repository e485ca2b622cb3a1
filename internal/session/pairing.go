package session

import (
	"context"
	"time"

	"github.com/airshed-labs/co2node/internal/events"
	"github.com/airshed-labs/co2node/internal/sample"
	"github.com/airshed-labs/co2node/internal/wire"
)

// tickAwaitNetwork brings the link and the transport session up under
// the recovery supervisor. Both operations block inside this tick,
// mirroring boot-time bring-up; their retry pauses are the only
// suspension points besides the tick delay itself, and the deadman is
// disarmed around them.
func (m *Machine) tickAwaitNetwork(ctx context.Context) {
	ok := m.deps.Supervisor.Run(ctx, "network-join", func(ctx context.Context) bool {
		return m.deps.Joiner.Join(ctx, m.cfg.SSID, m.cfg.Passphrase)
	})
	if !ok {
		if ctx.Err() != nil {
			return
		}
		m.restart("network join retries exhausted")
		return
	}

	ok = m.deps.Supervisor.Run(ctx, "transport-connect", func(ctx context.Context) bool {
		return m.deps.Transport.Connect(ctx)
	})
	if !ok {
		if ctx.Err() != nil {
			return
		}
		m.restart("transport connect retries exhausted")
		return
	}

	m.beginPairing()
}

func (m *Machine) beginPairing() {
	m.subscribed = false
	m.subAttempts = 0
	m.announced = false
	m.gateLeft = 0
	m.pairingLeft = m.ticksFor(m.cfg.PairingTimeout)
	m.setPhase(PhaseAwaitConfig)
}

// tickAwaitConfig advances the pairing sequence one gated step:
// subscribe with bounded retries, settle, announce exactly once, then
// wait for the inbox to deliver a configuration. The phase-wide
// timeout counts down on every tick, gated or not.
func (m *Machine) tickAwaitConfig() {
	m.pairingLeft--
	if m.pairingLeft <= 0 {
		m.restart("pairing timed out")
		return
	}

	if m.gateLeft > 0 {
		m.gateLeft--
		return
	}

	switch {
	case !m.subscribed:
		m.subAttempts++
		if m.deps.Transport.Subscribe(m.confTopic) {
			m.subscribed = true
			m.gateLeft = m.ticksFor(m.cfg.SettleDelay)
			m.deps.Logger.Debug("subscribed to config topic",
				"topic", m.confTopic,
				"attempt", m.subAttempts)
			return
		}
		if m.subAttempts >= m.cfg.SubscribeAttempts {
			m.restart("config subscribe retries exhausted")
			return
		}
		m.gateLeft = m.ticksFor(m.cfg.SubscribeGate)

	case !m.announced:
		// Sent exactly once even if the publish reports failure; the
		// pairing timeout is the recovery path for a lost announcement.
		if !m.deps.Transport.Publish(wire.TopicAnnounce, m.id[:]) {
			m.deps.Logger.Warn("announce publish failed")
		}
		m.announced = true
		m.deps.Logger.Info("announced, awaiting configuration",
			"identity", m.id.String(),
			"conf_topic", m.confTopic)
		m.deps.Bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceSession,
			Kind:      events.KindAnnounceSent,
			Data:      map[string]any{"identity": m.id.String()},
		})
	}
}

// adopt applies a received runtime configuration and enters Reporting.
// Thresholds are taken as-is; a misordered set degenerates silently to
// whatever first-match-wins yields.
func (m *Machine) adopt(rc wire.RuntimeConfig) {
	m.runtime = rc
	m.sampleGap = m.ticksFor(time.Duration(rc.SampleEvery) * time.Millisecond)
	m.sampleLeft = m.sampleGap
	m.inHighBand = false
	m.agg = sample.Aggregator{}
	m.deps.Indicator.Configure(
		time.Duration(rc.ShowEvery)*time.Second,
		time.Duration(rc.BuzzEvery)*time.Second,
	)
	m.deps.Logger.Info("runtime configuration adopted",
		"sample_every_ms", rc.SampleEvery,
		"samples_per_report", rc.SamplesPerReport,
		"green", rc.GreenThreshold,
		"yellow", rc.YellowThreshold,
		"orange", rc.OrangeThreshold,
		"buzz_every_s", rc.BuzzEvery,
		"show_every_s", rc.ShowEvery)
	m.deps.Bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceSession,
		Kind:      events.KindConfigAdopted,
		Data: map[string]any{
			"sample_every_ms":    int(rc.SampleEvery),
			"samples_per_report": int(rc.SamplesPerReport),
		},
	})
	m.setPhase(PhaseReporting)
}
