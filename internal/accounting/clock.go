package accounting

import (
	"time"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/lendpool/internal/domain"
)

// Clock returns the current wall-clock time.
type Clock interface {
	Now() (time.Time, error)
}

// SystemClock adapts a facebookgo clock to the ledger Clock.
type SystemClock struct {
	clk clock.Clock
}

// NewSystemClock returns a clock backed by the operating system time.
func NewSystemClock() *SystemClock {
	return &SystemClock{clk: clock.New()}
}

// NewMockClock returns a controllable clock advanced to start together with its mock handle.
func NewMockClock(start time.Time) (*SystemClock, *clock.Mock) {
	mock := clock.NewMock()
	if d := start.Sub(mock.Now()); d > 0 {
		mock.Add(d)
	}
	return &SystemClock{clk: mock}, mock
}

// Now returns the current time truncated to whole seconds.
func (c *SystemClock) Now() (time.Time, error) {
	if c == nil || c.clk == nil {
		return time.Time{}, errors.Wrap(domain.ErrClockUnavailable, "clock is not configured")
	}
	now := c.clk.Now()
	if now.Unix() <= 0 {
		return time.Time{}, errors.Wrapf(domain.ErrClockUnavailable, "clock reports %s", now.UTC())
	}
	return now.Truncate(time.Second), nil
}
