// Package dataset is a small labelled-array model: named dimensions,
// coordinate variables and data variables, as produced by the GRIB decoder
// and consumed by the NetCDF encoders.
package dataset

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/pkg/errors"
)

// DataType is the on-disk precision of a variable.
type DataType int

const (
	Float64 DataType = iota
	Float32
)

// Attr is a text attribute.
type Attr struct {
	Name  string
	Value string
}

// Dim is a named axis.
type Dim struct {
	Name string
	Len  int
}

// Variable is an n-dimensional array stored row-major over Dims. A variable
// with no dims is a scalar holding one value.
type Variable struct {
	Name  string
	Dims  []string
	Attrs []Attr
	Type  DataType
	Data  []float64
}

// Attr returns the value of the named attribute.
func (v *Variable) Attr(name string) (string, bool) {
	for _, a := range v.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

func (v *Variable) clone() *Variable {
	out := *v
	out.Dims = slices.Clone(v.Dims)
	out.Attrs = slices.Clone(v.Attrs)
	out.Data = slices.Clone(v.Data)
	return &out
}

// Dataset groups variables sharing a set of dimensions.
type Dataset struct {
	Dims   []Dim
	Coords []*Variable
	Vars   []*Variable
	Attrs  []Attr

	// ReferenceTimes lists the reference time of every decoded field, in
	// decoding order.
	ReferenceTimes []time.Time
}

// Dim returns the named dimension.
func (d *Dataset) Dim(name string) (Dim, bool) {
	for _, dim := range d.Dims {
		if dim.Name == name {
			return dim, true
		}
	}
	return Dim{}, false
}

// Coord returns the named coordinate variable, or nil.
func (d *Dataset) Coord(name string) *Variable {
	for _, v := range d.Coords {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// Var returns the named data variable, or nil.
func (d *Dataset) Var(name string) *Variable {
	for _, v := range d.Vars {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// Clone deep-copies the dataset.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{
		Dims:           slices.Clone(d.Dims),
		Attrs:          slices.Clone(d.Attrs),
		ReferenceTimes: slices.Clone(d.ReferenceTimes),
	}
	for _, v := range d.Coords {
		out.Coords = append(out.Coords, v.clone())
	}
	for _, v := range d.Vars {
		out.Vars = append(out.Vars, v.clone())
	}
	return out
}

// Validate checks that every variable's data matches its dimensions.
func (d *Dataset) Validate() error {
	for _, v := range append(slices.Clone(d.Coords), d.Vars...) {
		size := 1
		for _, name := range v.Dims {
			dim, ok := d.Dim(name)
			if !ok {
				return errors.Errorf("variable %s uses unknown dimension %s", v.Name, name)
			}
			size *= dim.Len
		}
		if len(v.Data) != size {
			return errors.Errorf("variable %s has %d values, dimensions need %d", v.Name, len(v.Data), size)
		}
	}
	return nil
}

// AsFloat32 returns a copy whose data variables are single precision.
// Coordinates keep their precision.
func (d *Dataset) AsFloat32() *Dataset {
	out := d.Clone()
	for _, v := range out.Vars {
		v.Type = Float32
		for i, x := range v.Data {
			v.Data[i] = float64(float32(x))
		}
	}
	return out
}

// Select keeps, along dimension dim, only the indices in keep (in the given
// order) for every variable using it.
func (d *Dataset) Select(dim string, keep []int) (*Dataset, error) {
	n, ok := d.Dim(dim)
	if !ok {
		return nil, errors.Errorf("unknown dimension %s", dim)
	}
	for _, i := range keep {
		if i < 0 || i >= n.Len {
			return nil, errors.Errorf("index %d out of range for dimension %s of length %d", i, dim, n.Len)
		}
	}
	out := d.Clone()
	for i := range out.Dims {
		if out.Dims[i].Name == dim {
			out.Dims[i].Len = len(keep)
		}
	}
	for _, v := range append(slices.Clone(out.Coords), out.Vars...) {
		axis := slices.Index(v.Dims, dim)
		if axis < 0 {
			continue
		}
		shape := make([]int, len(v.Dims))
		for j, name := range v.Dims {
			dd, _ := d.Dim(name)
			shape[j] = dd.Len
		}
		v.Data = selectAxis(v.Data, shape, axis, keep)
	}
	return out, nil
}

// selectAxis picks indices along one axis of a row-major array.
func selectAxis(data []float64, shape []int, axis int, keep []int) []float64 {
	outer := 1
	for _, s := range shape[:axis] {
		outer *= s
	}
	inner := 1
	for _, s := range shape[axis+1:] {
		inner *= s
	}
	n := shape[axis]
	out := make([]float64, 0, outer*len(keep)*inner)
	for o := 0; o < outer; o++ {
		base := o * n * inner
		for _, k := range keep {
			start := base + k*inner
			out = append(out, data[start:start+inner]...)
		}
	}
	return out
}

// Area is a bounding box in degrees.
type Area struct {
	North, West, South, East float64
}

// AreaFromSlice reads north, west, south, east.
func AreaFromSlice(v []float64) (Area, error) {
	if len(v) != 4 {
		return Area{}, errors.Errorf("area needs 4 numbers (north, west, south, east), got %d", len(v))
	}
	return Area{North: v[0], West: v[1], South: v[2], East: v[3]}, nil
}

// Crop keeps the grid points inside a, bounds included. Longitudes are
// matched modulo 360 so that a 0..360 grid can be cropped with a -180..180
// box and the other way round.
func (d *Dataset) Crop(a Area) (*Dataset, error) {
	lat := d.Coord("latitude")
	lon := d.Coord("longitude")
	if lat == nil || lon == nil {
		return nil, errors.New("dataset has no latitude/longitude coordinates")
	}
	south, north := math.Min(a.South, a.North), math.Max(a.South, a.North)

	var latKeep []int
	for i, y := range lat.Data {
		if y >= south && y <= north {
			latKeep = append(latKeep, i)
		}
	}
	var lonKeep []int
	for i, x := range lon.Data {
		if lonWithin(x, a.West, a.East) {
			lonKeep = append(lonKeep, i)
		}
	}
	slices.SortStableFunc(lonKeep, func(i, j int) int {
		return cmp.Compare(intoRange(lon.Data[i], a.West, a.East), intoRange(lon.Data[j], a.West, a.East))
	})
	if len(latKeep) == 0 || len(lonKeep) == 0 {
		return nil, errors.Errorf("area %+v does not intersect the grid", a)
	}
	out, err := d.Select("latitude", latKeep)
	if err != nil {
		return nil, err
	}
	out, err = out.Select("longitude", lonKeep)
	if err != nil {
		return nil, err
	}
	// Report longitudes in the box's convention.
	if c := out.Coord("longitude"); c != nil {
		for i, x := range c.Data {
			c.Data[i] = intoRange(x, a.West, a.East)
		}
	}
	return out, nil
}

func lonWithin(x, west, east float64) bool {
	y := intoRange(x, west, east)
	return y >= west && y <= east
}

// intoRange shifts x by multiples of 360 to land in [west, east] when possible.
func intoRange(x, west, east float64) float64 {
	for _, y := range []float64{x, x - 360, x + 360} {
		if y >= west && y <= east {
			return y
		}
	}
	return x
}
