// Package dates plans which calendar dates a batch run attempts.
package dates

import (
	"iter"
	"math"
	"time"

	"github.com/pkg/errors"
)

// AdjustDate shifts d by offset days. Offsets are added arithmetically;
// string dates are parsed with format, shifted by calendar days and
// formatted back with the same pattern.
func AdjustDate(d Value, offset int, format string) (Value, error) {
	switch {
	case d.IsOffset():
		return Offset(d.Days() + float64(offset)), nil
	case d.IsText():
		t, err := Parse(format, d.text)
		if err != nil {
			return Value{}, err
		}
		return Text(Format(format, t.AddDate(0, 0, offset))), nil
	default:
		return Value{}, ErrDateType
	}
}

// Window yields lookBack+1 dates for offsets -lookBack through 0, oldest
// first. The reference date is validated before the sequence is returned.
func Window(ref Value, lookBack int, format string) (iter.Seq[Value], error) {
	if lookBack < 0 {
		return nil, errors.Errorf("look_back must be non-negative, got %d", lookBack)
	}
	if _, err := AdjustDate(ref, 0, format); err != nil {
		return nil, err
	}
	return func(yield func(Value) bool) {
		for offset := -lookBack; offset <= 0; offset++ {
			d, err := AdjustDate(ref, offset, format)
			if err != nil {
				return
			}
			if !yield(d) {
				return
			}
		}
	}, nil
}

// Resolve returns the formatted date d stands for on the day now.
func Resolve(d Value, now time.Time, format string) (string, error) {
	switch {
	case d.IsOffset():
		return Format(format, shift(now, d.Days())), nil
	case d.IsText():
		t, err := Parse(format, d.text)
		if err != nil {
			return "", err
		}
		return Format(format, t), nil
	default:
		return "", ErrDateType
	}
}

// ResolveTime is Resolve without the final formatting.
func ResolveTime(d Value, now time.Time, format string) (time.Time, error) {
	switch {
	case d.IsOffset():
		return shift(now, d.Days()), nil
	case d.IsText():
		return Parse(format, d.text)
	default:
		return time.Time{}, ErrDateType
	}
}

func shift(now time.Time, days float64) time.Time {
	if whole, frac := math.Modf(days); frac == 0 {
		return now.AddDate(0, 0, int(whole))
	}
	return now.Add(time.Duration(days * float64(24*time.Hour)))
}
