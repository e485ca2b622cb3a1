// Package indicator drives the node's status light and buzzer. The
// driver computes when output should fire from elapsed time handed to
// it each tick; how the hardware is driven belongs to the Output
// implementation. Elapsed-time accounting (rather than absolute clock
// reads) keeps the driver correct across counter rollover.
package indicator

import "time"

// Color is an RGB triple for the status light. The zero value is dark.
type Color struct {
	R, G, B uint8
}

// Severity palette, lowest to highest.
var (
	Green  = Color{R: 0x00, G: 0xff, B: 0x00}
	Yellow = Color{R: 0xff, G: 0xff, B: 0x00}
	Orange = Color{R: 0xff, G: 0xa5, B: 0x00}
	Red    = Color{R: 0xff, G: 0x00, B: 0x00}
)

// BuzzState is the buzz-request tri-state carried in an [Intent].
type BuzzState uint8

const (
	// BuzzOff keeps the buzzer silent.
	BuzzOff BuzzState = iota
	// BuzzArmed lets the periodic tone fire on its configured interval.
	BuzzArmed
	// BuzzForce fires one tone on the next tick, then behaves as
	// BuzzArmed. It does not repeat.
	BuzzForce
)

// Intent is the steady state the session machine wants shown. Intents
// are small value copies handed over on each report; the driver never
// shares mutable state with its caller.
type Intent struct {
	Color Color
	Buzz  BuzzState
}

// Output is the hardware boundary the driver fires through.
type Output interface {
	SetColor(c Color)
	Buzz(d time.Duration)
}

// Fixed pulse shapes. The light shows 1-second on-pulses; the buzzer
// sounds 500 ms tones. Only the gaps between them are configurable.
const (
	pulseLen = time.Second
	toneLen  = 500 * time.Millisecond
)

// Driver turns intents into timed pulses. It is driven by the session
// tick loop and is not safe for concurrent use; it does not need to be.
type Driver struct {
	out Output

	intent     Intent
	configured bool

	showEvery time.Duration // blank period between pulses; <0 disabled, 0 always on
	buzzEvery time.Duration // gap between periodic tones; <0 disabled

	push         bool // push light state on the next tick
	lit          bool
	shown        Color
	lightLeft    time.Duration
	buzzLeft     time.Duration
	forcePending bool
}

// New returns a driver over the given output. Until Configure is
// called the driver is inert: ticks do nothing.
func New(out Output) *Driver {
	return &Driver{out: out}
}

// Configure sets the pulse cadence, normally once per pairing when the
// runtime config is adopted. A negative showEvery disables the light, a
// zero showEvery keeps it on continuously. A negative buzzEvery
// disables the buzzer entirely; the periodic tone needs a positive
// interval. The light and buzz phases restart from the beginning.
func (d *Driver) Configure(showEvery, buzzEvery time.Duration) {
	d.showEvery = showEvery
	d.buzzEvery = buzzEvery
	d.configured = true
	d.push = true
	d.lit = false
	d.forcePending = false
	d.buzzLeft = buzzEvery
}

// SetIntent replaces the desired color and buzz state. A BuzzForce
// intent latches one immediate tone; the latch demotes itself after
// firing, so repeated force intents are needed for repeated immediate
// tones.
func (d *Driver) SetIntent(i Intent) {
	d.intent = i
	if i.Buzz == BuzzForce {
		d.forcePending = true
	}
}

// Tick advances both tickers by the elapsed time since the previous
// call and fires any output that came due.
func (d *Driver) Tick(elapsed time.Duration) {
	if !d.configured {
		return
	}
	d.tickLight(elapsed)
	d.tickBuzz(elapsed)
}

func (d *Driver) tickLight(elapsed time.Duration) {
	switch {
	case d.showEvery < 0:
		if d.push || d.lit {
			d.out.SetColor(Color{})
			d.lit = false
			d.push = false
		}

	case d.showEvery == 0:
		// Always on. Repush only when the color actually changes.
		if d.push || !d.lit || d.shown != d.intent.Color {
			d.show(d.intent.Color)
			d.push = false
		}

	default:
		if d.push {
			// Fresh configuration starts with an on-pulse.
			d.show(d.intent.Color)
			d.lightLeft = pulseLen
			d.push = false
			return
		}
		d.lightLeft -= elapsed
		if d.lightLeft > 0 {
			return
		}
		if d.lit {
			d.out.SetColor(Color{})
			d.lit = false
			d.lightLeft = d.showEvery
		} else {
			d.show(d.intent.Color)
			d.lightLeft = pulseLen
		}
	}
}

func (d *Driver) show(c Color) {
	d.out.SetColor(c)
	d.shown = c
	d.lit = true
}

func (d *Driver) tickBuzz(elapsed time.Duration) {
	if d.buzzEvery < 0 {
		d.forcePending = false
		return
	}
	if d.forcePending {
		d.out.Buzz(toneLen)
		d.forcePending = false
		d.buzzLeft = d.buzzEvery
		return
	}
	if d.intent.Buzz == BuzzOff || d.buzzEvery <= 0 {
		return
	}
	d.buzzLeft -= elapsed
	if d.buzzLeft <= 0 {
		d.out.Buzz(toneLen)
		d.buzzLeft = d.buzzEvery
	}
}
