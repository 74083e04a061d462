package dataset

import (
	"math"
	"testing"
)

// globalGrid is a 1-degree grid over latitudes 90..-90 and longitudes 0..359
// with one variable holding lat*1000+lon.
func globalGrid() *Dataset {
	var lats, lons, values []float64
	for lat := 90.0; lat >= -90; lat-- {
		lats = append(lats, lat)
	}
	for lon := 0.0; lon < 360; lon++ {
		lons = append(lons, lon)
	}
	for _, lat := range lats {
		for _, lon := range lons {
			values = append(values, lat*1000+lon)
		}
	}
	return &Dataset{
		Dims: []Dim{{Name: "latitude", Len: len(lats)}, {Name: "longitude", Len: len(lons)}},
		Coords: []*Variable{
			{Name: "latitude", Dims: []string{"latitude"}, Data: lats},
			{Name: "longitude", Dims: []string{"longitude"}, Data: lons},
			{Name: "time", Data: []float64{1717891200}},
		},
		Vars: []*Variable{
			{Name: "tp", Dims: []string{"latitude", "longitude"}, Data: values},
		},
	}
}

func TestCropKeepsPointsInsideArea(t *testing.T) {
	area, err := AreaFromSlice([]float64{-5, 110, -45, 155})
	if err != nil {
		t.Fatalf("area: %v", err)
	}
	out, err := globalGrid().Crop(area)
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	lat, lon := out.Coord("latitude"), out.Coord("longitude")
	if len(lat.Data) != 41 || len(lon.Data) != 46 {
		t.Fatalf("expected 41x46 points, got %dx%d", len(lat.Data), len(lon.Data))
	}
	for _, y := range lat.Data {
		if y < -45 || y > -5 {
			t.Fatalf("latitude %v outside [-45,-5]", y)
		}
	}
	for _, x := range lon.Data {
		if x < 110 || x > 155 {
			t.Fatalf("longitude %v outside [110,155]", x)
		}
	}
	if err := out.Validate(); err != nil {
		t.Fatalf("cropped dataset is inconsistent: %v", err)
	}
	tp := out.Var("tp")
	if got, want := tp.Data[0], -5.0*1000+110; got != want {
		t.Fatalf("first value: expected %v, got %v", want, got)
	}
	if got, want := tp.Data[len(tp.Data)-1], -45.0*1000+155; got != want {
		t.Fatalf("last value: expected %v, got %v", want, got)
	}
	if out.Coord("time").Data[0] != 1717891200 {
		t.Fatalf("scalar coordinates must survive cropping")
	}
}

func TestCropMatchesLongitudesAcrossConventions(t *testing.T) {
	out, err := globalGrid().Crop(Area{North: 10, West: -20, South: 0, East: 20})
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	lon := out.Coord("longitude").Data
	if len(lon) != 41 {
		t.Fatalf("expected 41 longitudes, got %d", len(lon))
	}
	for _, x := range lon {
		if x < -20 || x > 20 {
			t.Fatalf("longitude %v not in the box convention", x)
		}
	}
}

func TestCropOutsideGrid(t *testing.T) {
	ds := globalGrid()
	ds, _ = ds.Select("latitude", []int{0, 1})
	if _, err := ds.Crop(Area{North: -10, West: 0, South: -20, East: 10}); err == nil {
		t.Fatalf("expected error for an area that misses the grid")
	}
}

func TestSelectAlongLeadingAxis(t *testing.T) {
	ds := &Dataset{
		Dims: []Dim{{Name: "step", Len: 3}, {Name: "latitude", Len: 1}, {Name: "longitude", Len: 2}},
		Vars: []*Variable{{Name: "tp", Dims: []string{"step", "latitude", "longitude"}, Data: []float64{1, 2, 3, 4, 5, 6}}},
	}
	out, err := ds.Select("step", []int{2, 0})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	got := out.Var("tp").Data
	want := []float64{5, 6, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if ds.Var("tp").Data[0] != 1 || len(ds.Var("tp").Data) != 6 {
		t.Fatalf("select must not modify the receiver")
	}
	if _, err := ds.Select("step", []int{3}); err == nil {
		t.Fatalf("expected out-of-range error")
	}
}

func TestAsFloat32(t *testing.T) {
	ds := globalGrid()
	ds.Vars[0].Data[0] = 0.1
	out := ds.AsFloat32()
	if out.Vars[0].Type != Float32 {
		t.Fatalf("expected float32 variable")
	}
	if out.Vars[0].Data[0] != float64(float32(0.1)) {
		t.Fatalf("values should be rounded to single precision")
	}
	if out.Coord("latitude").Type != Float64 || ds.Vars[0].Data[0] != 0.1 {
		t.Fatalf("coordinates and the source dataset must keep double precision")
	}
	if math.IsNaN(out.Vars[0].Data[1]) {
		t.Fatalf("unexpected NaN")
	}
}

func TestCropOrdersWrappedLongitudes(t *testing.T) {
	out, err := globalGrid().Crop(Area{North: 1, West: -2, South: 0, East: 2})
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	want := []float64{-2, -1, 0, 1, 2}
	got := out.Coord("longitude").Data
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if v := out.Var("tp").Data[0]; v != 1*1000+358 {
		t.Fatalf("data must follow the reordered longitudes, got %v", v)
	}
}
