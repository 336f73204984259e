package timezone

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/pkg/errors"
)

var (
	errUnknownFormat = errors.New("unknown format")
	errOutOfRange    = errors.New("value is out of range")
)

// Clock is a time of day
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// ParseClock parses time of day in the format HH:MM
func ParseClock(txt string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(txt), ":")
	if len(parts) != 2 {
		return Clock{}, errors.Wrapf(errUnknownFormat, "%q", txt)
	}

	hour, err := validateInt(parts[0], 0, 23)
	if err != nil {
		return Clock{}, err
	}

	min, err := validateInt(parts[1], 0, 59)
	if err != nil {
		return Clock{}, err
	}

	return Clock{Hour: hour, Minute: min}, nil
}

// Load returns the location with the given IANA name
func Load(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed loading time zone %q", name)
	}
	return loc, nil
}

// NextDaily returns the first moment strictly after now when the wall clock
// in loc shows at.
func NextDaily(now time.Time, at Clock, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), at.Hour, at.Minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, at.Hour, at.Minute, 0, 0, loc)
	}
	return next
}

func validateInt(txt string, min int, max int) (int, error) {
	val, err := strconv.Atoi(txt)
	if err != nil {
		return 0, errors.Wrapf(errUnknownFormat, "%q", txt)
	}

	if val < min || val > max {
		return 0, errOutOfRange
	}
	return val, nil
}
