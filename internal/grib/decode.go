package grib

import (
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/ashkanshokri/ecmwf-downloader/internal/dataset"
)

// DecodeFile reads path and builds a dataset from the fields of type typ.
// An empty typ keeps every field.
func DecodeFile(path, typ string) (*dataset.Dataset, error) {
	fields, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(fields, typ)
}

// Filter keeps the fields whose type of processed data matches typ.
func Filter(fields []*Field, typ string) ([]*Field, error) {
	if typ == "" {
		return fields, nil
	}
	code, err := TypeCode(typ)
	if err != nil {
		return nil, err
	}
	var out []*Field
	for _, f := range fields {
		if f.TypeOfData == code {
			out = append(out, f)
		}
	}
	return out, nil
}

// levelAxis is the vertical axis shared by the parameters that come on more
// than one level of the same surface type.
type levelAxis struct {
	surface int
	raw     []float64
}

func (a *levelAxis) name() string {
	switch a.surface {
	case 100:
		return "isobaricInhPa"
	case 103:
		return "heightAboveGround"
	case 106:
		return "depthBelowLandLayer"
	default:
		return "level"
	}
}

// coord returns the axis coordinate. Pressure levels are stored in Pa and
// reported in hPa.
func (a *levelAxis) coord() *dataset.Variable {
	v := &dataset.Variable{Name: a.name(), Dims: []string{a.name()}}
	units := ""
	switch a.surface {
	case 100:
		units = "hPa"
		v.Attrs = append(v.Attrs, dataset.Attr{Name: "long_name", Value: "pressure"})
	case 103, 106:
		units = "m"
	}
	if units != "" {
		v.Attrs = append(v.Attrs, dataset.Attr{Name: "units", Value: units})
	}
	for _, l := range a.raw {
		if a.surface == 100 {
			l /= 100
		}
		v.Data = append(v.Data, l)
	}
	return v
}

type slot struct {
	param string
	index int
}

// Decode builds a dataset with one variable per parameter over the axes
// number, time, step, level, latitude and longitude. The number, time and
// step axes are dropped to scalar coordinates when they hold a single
// value; a variable gets the level axis only when it comes on more than one
// level. All fields must share one grid, and two fields never map to the
// same slot.
func Decode(fields []*Field, typ string) (*dataset.Dataset, error) {
	fields, err := Filter(fields, typ)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, errors.Wrapf(ErrNoMessages, "type %q", typ)
	}

	grid := fields[0].Grid
	var (
		members  []int
		steps    []int
		times    []time.Time
		params   []Param
		refs     []time.Time
		levels   = map[string][]float64{}
		surfaces = map[string]int{}
	)
	hasMember := false
	for _, f := range fields {
		if f.Grid.Ni != grid.Ni || f.Grid.Nj != grid.Nj || f.Grid.La1 != grid.La1 || f.Grid.Lo1 != grid.Lo1 {
			return nil, errors.Wrap(ErrUnsupported, "fields on different grids")
		}
		hasMember = hasMember || f.HasMember
		if !slices.Contains(members, f.Member) {
			members = append(members, f.Member)
		}
		if !slices.Contains(steps, f.StepHours) {
			steps = append(steps, f.StepHours)
		}
		if !slices.ContainsFunc(times, f.RefTime.Equal) {
			times = append(times, f.RefTime)
		}
		p := Lookup(f)
		if surface, ok := surfaces[p.ShortName]; !ok {
			params = append(params, p)
			surfaces[p.ShortName] = f.Surface
		} else if surface != f.Surface {
			return nil, errors.Wrapf(ErrUnsupported, "parameter %s on surfaces %d and %d", p.ShortName, surface, f.Surface)
		}
		if !slices.Contains(levels[p.ShortName], f.Level) {
			levels[p.ShortName] = append(levels[p.ShortName], f.Level)
		}
		refs = append(refs, f.RefTime)
	}
	slices.Sort(members)
	slices.Sort(steps)
	slices.SortFunc(times, time.Time.Compare)

	var axis *levelAxis
	for _, p := range params {
		if len(levels[p.ShortName]) < 2 {
			continue
		}
		surface := surfaces[p.ShortName]
		if axis == nil {
			axis = &levelAxis{surface: surface}
		} else if axis.surface != surface {
			return nil, errors.Wrapf(ErrUnsupported, "levels on surfaces %d and %d", axis.surface, surface)
		}
		for _, l := range levels[p.ShortName] {
			if !slices.Contains(axis.raw, l) {
				axis.raw = append(axis.raw, l)
			}
		}
	}
	if axis != nil {
		slices.Sort(axis.raw)
	}

	numberDim := hasMember && len(members) > 1
	timeDim := len(times) > 1
	stepDim := len(steps) > 1

	ds := &dataset.Dataset{
		Attrs: []dataset.Attr{
			{Name: "GRIB_edition", Value: "2"},
			{Name: "Conventions", Value: "CF-1.7"},
		},
		ReferenceTimes: refs,
	}
	var lead []string
	if hasMember {
		if numberDim {
			ds.Dims = append(ds.Dims, dataset.Dim{Name: "number", Len: len(members)})
			lead = append(lead, "number")
		}
		ds.Coords = append(ds.Coords, intCoord("number", members, numberDim,
			dataset.Attr{Name: "long_name", Value: "ensemble member numerical id"}))
	}
	unix := make([]int, len(times))
	for i, t := range times {
		unix[i] = int(t.Unix())
	}
	if timeDim {
		ds.Dims = append(ds.Dims, dataset.Dim{Name: "time", Len: len(times)})
		lead = append(lead, "time")
	}
	ds.Coords = append(ds.Coords, intCoord("time", unix, timeDim,
		dataset.Attr{Name: "long_name", Value: "initial time of forecast"},
		dataset.Attr{Name: "standard_name", Value: "forecast_reference_time"},
		dataset.Attr{Name: "units", Value: "seconds since 1970-01-01T00:00:00"}))
	if stepDim {
		ds.Dims = append(ds.Dims, dataset.Dim{Name: "step", Len: len(steps)})
		lead = append(lead, "step")
	}
	ds.Coords = append(ds.Coords, intCoord("step", steps, stepDim,
		dataset.Attr{Name: "long_name", Value: "time since forecast_reference_time"},
		dataset.Attr{Name: "units", Value: "hours"}))
	if axis != nil {
		ds.Dims = append(ds.Dims, dataset.Dim{Name: axis.name(), Len: len(axis.raw)})
		ds.Coords = append(ds.Coords, axis.coord())
	}

	ds.Dims = append(ds.Dims,
		dataset.Dim{Name: "latitude", Len: grid.Nj},
		dataset.Dim{Name: "longitude", Len: grid.Ni},
	)
	ds.Coords = append(ds.Coords,
		&dataset.Variable{
			Name: "latitude",
			Dims: []string{"latitude"},
			Data: grid.Latitudes(),
			Attrs: []dataset.Attr{
				{Name: "units", Value: "degrees_north"},
				{Name: "standard_name", Value: "latitude"},
			},
		},
		&dataset.Variable{
			Name: "longitude",
			Dims: []string{"longitude"},
			Data: grid.Longitudes(),
			Attrs: []dataset.Attr{
				{Name: "units", Value: "degrees_east"},
				{Name: "standard_name", Value: "longitude"},
			},
		},
	)

	plane := grid.Ni * grid.Nj
	leadLen := 1
	if numberDim {
		leadLen *= len(members)
	}
	if timeDim {
		leadLen *= len(times)
	}
	if stepDim {
		leadLen *= len(steps)
	}
	vars := map[string]*dataset.Variable{}
	for _, p := range params {
		dims := slices.Clone(lead)
		size := leadLen
		attrs := []dataset.Attr{
			{Name: "long_name", Value: p.LongName},
			{Name: "units", Value: p.Units},
			{Name: "GRIB_dataType", Value: typ},
		}
		if len(levels[p.ShortName]) > 1 {
			dims = append(dims, axis.name())
			size *= len(axis.raw)
		} else {
			attrs = append(attrs, dataset.Attr{Name: "GRIB_level", Value: strconv.FormatFloat(levels[p.ShortName][0], 'g', -1, 64)})
		}
		data := make([]float64, size*plane)
		for i := range data {
			data[i] = math.NaN()
		}
		v := &dataset.Variable{
			Name:  p.ShortName,
			Dims:  append(dims, "latitude", "longitude"),
			Data:  data,
			Attrs: attrs,
		}
		vars[p.ShortName] = v
		ds.Vars = append(ds.Vars, v)
	}

	filled := map[slot]bool{}
	for _, f := range fields {
		name := Lookup(f).ShortName
		idx := 0
		if numberDim {
			idx = slices.Index(members, f.Member)
		}
		if timeDim {
			idx = idx*len(times) + slices.IndexFunc(times, f.RefTime.Equal)
		}
		if stepDim {
			idx = idx*len(steps) + slices.Index(steps, f.StepHours)
		}
		if len(levels[name]) > 1 {
			idx = idx*len(axis.raw) + slices.Index(axis.raw, f.Level)
		}
		if filled[slot{name, idx}] {
			return nil, errors.Errorf("duplicate %s field: member %d, time %s, step %d, level %g",
				name, f.Member, f.RefTime.Format(time.RFC3339), f.StepHours, f.Level)
		}
		filled[slot{name, idx}] = true
		copy(vars[name].Data[idx*plane:(idx+1)*plane], f.Values)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func intCoord(name string, values []int, dim bool, attrs ...dataset.Attr) *dataset.Variable {
	v := &dataset.Variable{Name: name, Attrs: attrs}
	if dim {
		v.Dims = []string{name}
		for _, x := range values {
			v.Data = append(v.Data, float64(x))
		}
		return v
	}
	v.Data = []float64{float64(values[0])}
	return v
}
