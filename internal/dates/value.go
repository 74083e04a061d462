package dates

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/ncruces/go-strftime"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	// ErrDateFormat is returned when a date string does not match the configured pattern.
	ErrDateFormat = errors.New("date does not match date_format")
	// ErrDateType is returned when a date is neither a day offset nor a formatted string.
	ErrDateType = errors.New("date must be a day offset or a formatted string")
)

// Value is a configured date: either an offset in days from today or a string
// formatted with the configuration's date_format.
type Value struct {
	offset *float64
	text   string
}

// Offset returns a Value shifted days from today.
func Offset(days float64) Value {
	return Value{offset: &days}
}

// Text returns a Value holding a formatted date string.
func Text(s string) Value {
	return Value{text: s}
}

// IsOffset reports whether v is a numeric day offset.
func (v Value) IsOffset() bool { return v.offset != nil }

// IsText reports whether v is a formatted date string.
func (v Value) IsText() bool { return v.offset == nil && v.text != "" }

// IsZero reports whether v holds neither form.
func (v Value) IsZero() bool { return v.offset == nil && v.text == "" }

// Days returns the offset in days. It is zero for string dates.
func (v Value) Days() float64 {
	if v.offset == nil {
		return 0
	}
	return *v.offset
}

func (v Value) String() string {
	if v.offset != nil {
		return strconv.FormatFloat(*v.offset, 'f', -1, 64)
	}
	return v.text
}

// Equal reports whether two values have the same form and content.
func (v Value) Equal(o Value) bool {
	if v.IsOffset() != o.IsOffset() {
		return false
	}
	if v.IsOffset() {
		return *v.offset == *o.offset
	}
	return v.text == o.text
}

// UnmarshalYAML keeps YAML numbers as offsets and strings as formatted dates.
// An unquoted 20240610 is therefore an offset, as it always was; quote it.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.Wrapf(ErrDateType, "line %d", node.Line)
	}
	switch node.ShortTag() {
	case "!!int", "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return errors.Wrap(err, "decode date offset")
		}
		*v = Offset(f)
	case "!!str":
		*v = Text(node.Value)
	case "!!null":
		*v = Value{}
	default:
		return errors.Wrapf(ErrDateType, "yaml tag %s", node.ShortTag())
	}
	return nil
}

func (v Value) MarshalYAML() (any, error) {
	if v.offset != nil {
		return *v.offset, nil
	}
	if v.text == "" {
		return nil, nil
	}
	return v.text, nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	val, _ := v.MarshalYAML()
	return json.Marshal(val)
}

// FromAny converts a loosely typed value (as found in a generic map) to a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		return t, nil
	case int:
		return Offset(float64(t)), nil
	case int64:
		return Offset(float64(t)), nil
	case float64:
		return Offset(t), nil
	case float32:
		return Offset(float64(t)), nil
	case string:
		return Text(t), nil
	default:
		return Value{}, errors.Wrapf(ErrDateType, "%T", x)
	}
}

// Parse reads s with a strftime-style pattern such as %Y%m%d.
func Parse(format, s string) (time.Time, error) {
	t, err := strftime.Parse(format, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrDateFormat, "%q with %q: %v", s, format, err)
	}
	return t, nil
}

// Format renders t with a strftime-style pattern.
func Format(format string, t time.Time) string {
	return strftime.Format(format, t)
}
