package watch

import (
	"strings"
	"time"
)

// Activity lights up on notices and fades while the stream is quiet.
type Activity struct {
	dots      int
	lastEvent time.Time
}

func (a *Activity) OnNotice(now time.Time) {
	a.dots = 5
	a.lastEvent = now
}

// Decay drops one dot for every two quiet seconds.
func (a *Activity) Decay(now time.Time) {
	if a.dots == 0 {
		return
	}
	quiet := int(now.Sub(a.lastEvent) / (2 * time.Second))
	a.dots = max(0, 5-quiet)
}

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := range 5 {
		if i < a.dots {
			b.WriteString(theme.ActivityOn.Render("●"))
		} else {
			b.WriteString(theme.ActivityOff.Render("○"))
		}
	}
	return b.String()
}

func (a Activity) LastEvent() time.Time {
	return a.lastEvent
}
