package admission

import (
	"context"
	"time"
)

// Shaper считает задержку, необходимую чтобы поток байт не превышал rate байт/с.
type Shaper interface {
	// Delay returns how long to sleep after total bytes have passed.
	Delay(total int64) time.Duration
	Wait(ctx context.Context, total int64) error
}

// NewShaper returns a noop shaper when rate is 0.
func NewShaper(rate int64) Shaper {
	if rate == 0 {
		return shaperNoop{}
	}
	return newRateShaper(time.Now(), rate)
}

type shaperNoop struct{}

func (shaperNoop) Delay(int64) time.Duration         { return 0 }
func (shaperNoop) Wait(context.Context, int64) error { return nil }

type rateShaper struct {
	start time.Time
	rate  int64
	now   func() time.Time
}

func newRateShaper(start time.Time, rate int64) *rateShaper {
	return &rateShaper{start: start, rate: rate, now: time.Now}
}

func (s *rateShaper) Delay(total int64) time.Duration {
	elapsed := s.now().Sub(s.start).Seconds()
	sec := (float64(total) - elapsed*float64(s.rate)) / float64(s.rate)
	if sec <= 0 {
		return 0
	}
	return time.Duration(sec * float64(time.Second))
}

func (s *rateShaper) Wait(ctx context.Context, total int64) error {
	d := s.Delay(total)
	if d == 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
