package session

import (
	"context"
	"time"

	"github.com/airshed-labs/co2node/internal/events"
	"github.com/airshed-labs/co2node/internal/indicator"
	"github.com/airshed-labs/co2node/internal/wire"
)

// tickReporting runs the steady-state cycle: rebuild the transport
// session if it died, sample on the configured cadence, and report
// when the aggregation window fills.
func (m *Machine) tickReporting(ctx context.Context) {
	if !m.deps.Transport.IsAlive() {
		ok := m.deps.Supervisor.Run(ctx, "transport-reconnect", func(ctx context.Context) bool {
			return m.deps.Transport.Connect(ctx)
		})
		if !ok {
			if ctx.Err() != nil {
				return
			}
			m.restart("transport reconnect retries exhausted")
		}
		// Sampling resumes next tick; reconnecting already ate this one.
		return
	}

	m.sampleLeft--
	if m.sampleLeft > 0 {
		return
	}
	m.sampleLeft = m.sampleGap

	co2, temp := m.deps.Sensor.Read()
	m.agg.Add(co2, temp)
	if !m.agg.Full(int(m.runtime.SamplesPerReport)) {
		return
	}

	samples := m.agg.Count()
	// The window clears whether or not the publish lands; a report
	// never mixes samples from two windows.
	co2Mean, tempMean := m.agg.DrainMean()
	m.report(co2Mean, tempMean, samples)
	m.updateIntent(co2Mean)
}

// report publishes one drained mean, retrying within the cycle. Running
// out of attempts drops the transport session, not the node; the next
// tick's reconnect rebuilds it cleanly.
func (m *Machine) report(co2Mean, tempMean, samples int) {
	payload := wire.EncodeReport([wire.IdentitySize]byte(m.id), int32(co2Mean), int32(tempMean))
	for attempt := 1; attempt <= m.cfg.PublishAttempts; attempt++ {
		if m.deps.Transport.Publish(wire.TopicData, payload) {
			m.deps.Logger.Debug("report published",
				"co2_mean", co2Mean,
				"temp_mean", tempMean,
				"samples", samples,
				"attempt", attempt)
			m.deps.Bus.Publish(events.Event{
				Timestamp: time.Now(),
				Source:    events.SourceSession,
				Kind:      events.KindReportPublished,
				Data: map[string]any{
					"co2_mean":  co2Mean,
					"temp_mean": tempMean,
					"samples":   samples,
				},
			})
			return
		}
	}

	m.deps.Logger.Warn("report publish failed, dropping transport session",
		"attempts", m.cfg.PublishAttempts)
	m.deps.Bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceSession,
		Kind:      events.KindReportFailed,
		Data:      map[string]any{"attempts": m.cfg.PublishAttempts},
	})
	m.deps.Transport.Drop()
}

// updateIntent recomputes the indicator intent from a drained mean.
// Thresholds are consumed in ascending first-match order. A forced
// tone fires only on the transition into the highest band; staying
// there keeps the periodic tone armed, and anything below silences it.
func (m *Machine) updateIntent(co2Mean int) {
	var intent indicator.Intent
	switch {
	case co2Mean < int(m.runtime.GreenThreshold):
		intent = indicator.Intent{Color: indicator.Green, Buzz: indicator.BuzzOff}
		m.inHighBand = false
	case co2Mean < int(m.runtime.YellowThreshold):
		intent = indicator.Intent{Color: indicator.Yellow, Buzz: indicator.BuzzOff}
		m.inHighBand = false
	case co2Mean < int(m.runtime.OrangeThreshold):
		intent = indicator.Intent{Color: indicator.Orange, Buzz: indicator.BuzzOff}
		m.inHighBand = false
	default:
		buzz := indicator.BuzzArmed
		if !m.inHighBand {
			buzz = indicator.BuzzForce
		}
		intent = indicator.Intent{Color: indicator.Red, Buzz: buzz}
		m.inHighBand = true
	}
	m.deps.Indicator.SetIntent(intent)
}
