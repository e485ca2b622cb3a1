package indicator

import (
	"log/slog"
	"time"
)

// LogOutput renders indicator output as structured log lines, standing
// in for the LED and buzzer on hosted builds.
type LogOutput struct {
	Log *slog.Logger
}

func (o LogOutput) SetColor(c Color) {
	if c == (Color{}) {
		o.Log.Debug("light off")
		return
	}
	o.Log.Debug("light on", "r", c.R, "g", c.G, "b", c.B)
}

func (o LogOutput) Buzz(d time.Duration) {
	o.Log.Info("buzzer tone", "duration", d)
}
