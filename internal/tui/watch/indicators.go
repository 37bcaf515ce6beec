package watch

import (
	"strings"
	"time"
)

// Pulse lights up when events arrive and fades while the stream is quiet.
type Pulse struct {
	dots      int
	lastEvent time.Time
}

func (p *Pulse) OnEvent(now time.Time) {
	p.dots = 5
	p.lastEvent = now
}

// Decay drops one dot for every two quiet seconds.
func (p *Pulse) Decay(now time.Time) {
	if p.dots == 0 {
		return
	}
	left := 5 - int(now.Sub(p.lastEvent)/(2*time.Second))
	if left < 0 {
		left = 0
	}
	if left < p.dots {
		p.dots = left
	}
}

func (p Pulse) Render(theme Theme) string {
	var b strings.Builder
	for i := range 5 {
		if i < p.dots {
			b.WriteString(theme.PulseOn.Render("●"))
		} else {
			b.WriteString(theme.PulseOff.Render("○"))
		}
	}
	return b.String()
}
