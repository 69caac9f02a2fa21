package server

import (
	"context"
	"time"
)

type tickerFactory func(time.Duration) (<-chan time.Time, func())

type timeSource func() time.Time

func defaultTickerFactory() tickerFactory {
	return func(d time.Duration) (<-chan time.Time, func()) {
		ticker := time.NewTicker(d)
		return ticker.C, ticker.Stop
	}
}

// frameLoop calls frame once per tick on the calling goroutine until ctx is
// done or frame returns false. delta is clamped so a stalled frame does not
// make the next one jump.
type frameLoop struct {
	tick      time.Duration
	newTicker tickerFactory
	now       timeSource
}

func newFrameLoop(tick time.Duration) *frameLoop {
	if tick <= 0 {
		tick = 33 * time.Millisecond
	}
	return &frameLoop{
		tick:      tick,
		newTicker: defaultTickerFactory(),
		now:       time.Now,
	}
}

func (l *frameLoop) run(ctx context.Context, frame func(now time.Time, delta time.Duration) bool) {
	if l.newTicker == nil {
		l.newTicker = defaultTickerFactory()
	}
	if l.now == nil {
		l.now = time.Now
	}

	tickerC, stop := l.newTicker(l.tick)
	defer stop()

	last := l.now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tickerC:
			delta := now.Sub(last)
			if delta <= 0 {
				delta = l.tick
			} else if delta > 10*l.tick {
				delta = l.tick
			}
			last = now
			if !frame(now, delta) {
				return
			}
		}
	}
}
