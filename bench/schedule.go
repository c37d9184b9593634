package bench

import (
	"errors"
	"math"
	"time"
)

// Schedule задает момент отправки n-го вызова (с нуля) относительно старта.
// ok is false once the load must stop.
type Schedule interface {
	Next(n int64) (at time.Duration, ok bool)
}

// CountLimiter stops s after limit calls.
type CountLimiter struct {
	s     Schedule
	limit int64
}

func NewCountLimiter(s Schedule, limit int64) CountLimiter {
	return CountLimiter{s, limit}
}

func (cl CountLimiter) Next(n int64) (time.Duration, bool) {
	if n >= cl.limit {
		return 0, false
	}
	return cl.s.Next(n)
}

// DurationLimiter stops s once calls would start after d.
type DurationLimiter struct {
	s Schedule
	d time.Duration
}

func NewDurationLimiter(s Schedule, d time.Duration) DurationLimiter {
	return DurationLimiter{s, d}
}

func (dl DurationLimiter) Next(n int64) (time.Duration, bool) {
	at, ok := dl.s.Next(n)
	if !ok || at > dl.d {
		return 0, false
	}
	return at, true
}

// Constant is a fixed rate of calls.
type Constant struct {
	interval time.Duration
}

func NewConstant(freq uint64) (Constant, error) {
	if freq == 0 {
		return Constant{}, errors.New("freq must be positive")
	}
	return Constant{time.Second / time.Duration(freq)}, nil
}

func (c Constant) Next(n int64) (time.Duration, bool) {
	return time.Duration(n) * c.interval, true
}

// Unlimited sends the next call as soon as the previous one is done.
type Unlimited struct{}

func (Unlimited) Next(int64) (time.Duration, bool) {
	return 0, true
}

// Line grows the rate linearly from `from` to `to` calls/s over d.
type Line struct {
	from      float64
	twoA      float64
	fromSq    float64
	nanosDivA float64
}

func NewLine(from, to float64, d time.Duration) (Schedule, error) {
	switch {
	case from < 0 || to < 0:
		return nil, errors.New("rate must not be negative")
	case d <= 0:
		return nil, errors.New("duration must be positive")
	case from == to:
		if from == 0 {
			return nil, errors.New("rate must be positive")
		}
		return Constant{time.Duration(float64(time.Second) / from)}, nil
	}

	// n(t) = from*t + a*t^2/2  =>  t(n) = (sqrt(2an + from^2) - from) / a
	a := (to - from) / d.Seconds()
	return Line{
		from:      from,
		twoA:      2 * a,
		fromSq:    from * from,
		nanosDivA: 1e9 / a,
	}, nil
}

func (l Line) Next(n int64) (time.Duration, bool) {
	d := l.twoA*float64(n) + l.fromSq
	if d < 0 {
		// убывающая нагрузка дошла до нуля
		return 0, false
	}
	return time.Duration((math.Sqrt(d) - l.from) * l.nanosDivA), true
}
