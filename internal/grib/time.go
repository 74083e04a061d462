package grib

import (
	"time"

	"github.com/pkg/errors"
)

// CanonicalTime picks the reference time of a decoded payload: the first
// one. consistent is false when the times disagree.
func CanonicalTime(times []time.Time) (t time.Time, consistent bool, err error) {
	if len(times) == 0 {
		return time.Time{}, false, errors.Wrap(ErrNoMessages, "no reference time")
	}
	first := times[0]
	for _, other := range times[1:] {
		if !other.Equal(first) {
			return first, false, nil
		}
	}
	return first, true, nil
}
