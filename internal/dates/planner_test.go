package dates

import (
	"slices"
	"testing"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const ymd = "%Y%m%d"

func collect(t *testing.T, ref Value, lookBack int, format string) []Value {
	t.Helper()
	seq, err := Window(ref, lookBack, format)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	return slices.Collect(seq)
}

func TestWindowYieldsLookBackPlusOneOldestFirst(t *testing.T) {
	for n := 0; n <= 5; n++ {
		got := collect(t, Offset(0), n, ymd)
		if len(got) != n+1 {
			t.Fatalf("look_back=%d: expected %d dates, got %d", n, n+1, len(got))
		}
		for i, d := range got {
			if want := float64(i - n); d.Days() != want {
				t.Fatalf("look_back=%d: date %d has offset %v, want %v", n, i, d.Days(), want)
			}
		}
	}
}

func TestWindowStringDatesAreDistinct(t *testing.T) {
	got := collect(t, Text("20240301"), 3, ymd)
	want := []string{"20240227", "20240228", "20240229", "20240301"}
	for i, d := range got {
		if d.String() != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestWindowRejectsNegativeLookBack(t *testing.T) {
	if _, err := Window(Offset(0), -1, ymd); err == nil {
		t.Fatalf("expected error for negative look_back")
	}
}

func TestWindowRejectsMalformedReference(t *testing.T) {
	_, err := Window(Text("2024-06-10"), 2, ymd)
	if !errors.Is(err, ErrDateFormat) {
		t.Fatalf("expected ErrDateFormat, got %v", err)
	}
	_, err = Window(Value{}, 2, ymd)
	if !errors.Is(err, ErrDateType) {
		t.Fatalf("expected ErrDateType, got %v", err)
	}
}

func TestYesterdayWithLookBackTwo(t *testing.T) {
	now := time.Date(2024, 6, 10, 9, 30, 0, 0, time.UTC)
	var got []string
	for d := range mustWindow(t, Offset(-1), 2) {
		s, err := Resolve(d, now, ymd)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		got = append(got, s)
	}
	want := []string{"20240607", "20240608", "20240609"}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func mustWindow(t *testing.T, ref Value, n int) func(func(Value) bool) {
	t.Helper()
	seq, err := Window(ref, n, ymd)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	return seq
}

func TestAdjustDateZeroIsIdentity(t *testing.T) {
	for _, d := range []Value{Offset(-3), Offset(1.5), Text("20240610")} {
		got, err := AdjustDate(d, 0, ymd)
		if err != nil {
			t.Fatalf("adjust %v: %v", d, err)
		}
		if !got.Equal(d) {
			t.Fatalf("adjust(%v, 0) = %v", d, got)
		}
	}
}

func TestAdjustDateIsAdditive(t *testing.T) {
	refs := []Value{Offset(-1), Offset(0.5), Text("20231230"), Text("20240228")}
	steps := [][2]int{{-1, -1}, {3, -5}, {0, 7}, {-40, 2}}
	for _, ref := range refs {
		for _, s := range steps {
			ab, err := AdjustDate(ref, s[0], ymd)
			if err != nil {
				t.Fatalf("adjust: %v", err)
			}
			chained, err := AdjustDate(ab, s[1], ymd)
			if err != nil {
				t.Fatalf("adjust: %v", err)
			}
			direct, err := AdjustDate(ref, s[0]+s[1], ymd)
			if err != nil {
				t.Fatalf("adjust: %v", err)
			}
			if !chained.Equal(direct) {
				t.Fatalf("%v: adjust(adjust(d,%d),%d)=%v, adjust(d,%d)=%v", ref, s[0], s[1], chained, s[0]+s[1], direct)
			}
		}
	}
}

func TestAdjustDateErrors(t *testing.T) {
	if _, err := AdjustDate(Text("June 10"), 1, ymd); !errors.Is(err, ErrDateFormat) {
		t.Fatalf("expected ErrDateFormat, got %v", err)
	}
	if _, err := AdjustDate(Value{}, 1, ymd); !errors.Is(err, ErrDateType) {
		t.Fatalf("expected ErrDateType, got %v", err)
	}
}

func TestResolveFractionalOffset(t *testing.T) {
	now := time.Date(2024, 6, 10, 18, 0, 0, 0, time.UTC)
	got, err := Resolve(Offset(-0.5), now, ymd)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "20240610" {
		t.Fatalf("expected 20240610, got %s", got)
	}
}

func TestValueYAML(t *testing.T) {
	var doc struct {
		A Value `yaml:"a"`
		B Value `yaml:"b"`
		C Value `yaml:"c"`
	}
	if err := yaml.Unmarshal([]byte("a: -1\nb: '20240610'\nc: 2.5\n"), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !doc.A.IsOffset() || doc.A.Days() != -1 {
		t.Fatalf("expected offset -1, got %v", doc.A)
	}
	if !doc.B.IsText() || doc.B.String() != "20240610" {
		t.Fatalf("expected text date, got %v", doc.B)
	}
	if doc.C.Days() != 2.5 {
		t.Fatalf("expected offset 2.5, got %v", doc.C)
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var again struct {
		A Value `yaml:"a"`
		B Value `yaml:"b"`
	}
	if err := yaml.Unmarshal(out, &again); err != nil {
		t.Fatalf("unmarshal again: %v", err)
	}
	if !again.A.Equal(doc.A) || !again.B.Equal(doc.B) {
		t.Fatalf("values changed across YAML: %v %v", again.A, again.B)
	}
}
