package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/time-capsule/internal/model"
)

// ErrInvalidSchedule is returned when a civil date and time do not name a
// real instant in the configured zone.
var ErrInvalidSchedule = errors.New("invalid delivery schedule")

// ComputeETA combines a YYYY-MM-DD date and an HH:MM[:SS] time of day read in
// loc and returns the instant in UTC. A wall clock that the zone skips (a
// daylight saving gap) is rejected. A repeated wall clock resolves to
// whichever offset time.Date picks.
func ComputeETA(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}

	d, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidSchedule, date)
	}

	if clock == "" {
		clock = model.DefaultDeliveryAt
	}
	c, err := time.Parse(model.TimeLayoutSeconds, clock)
	if err != nil {
		if c, err = time.Parse(model.TimeLayout, clock); err != nil {
			return time.Time{}, fmt.Errorf("%w: time %q", ErrInvalidSchedule, clock)
		}
	}

	local := time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), c.Second(), 0, loc)
	if local.Day() != d.Day() || local.Hour() != c.Hour() || local.Minute() != c.Minute() {
		return time.Time{}, fmt.Errorf("%w: %s %s does not exist in %s", ErrInvalidSchedule, date, clock, loc)
	}

	return local.UTC(), nil
}

// ETA is ComputeETA for a capsule.
func ETA(c *model.Capsule, loc *time.Location) (time.Time, error) {
	return ComputeETA(c.DeliveryDate, c.DeliveryTime, loc)
}
