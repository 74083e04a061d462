package grib

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Param describes a parameter by its GRIB2 code and its ECMWF short name.
type Param struct {
	ShortName string
	LongName  string
	Units     string
}

type paramKey struct {
	discipline, category, number int
	surface                      int // 0 matches any surface
	level                        float64
}

var paramTable = map[paramKey]Param{
	{0, 1, 8, 0, 0}:     {"tp", "Total precipitation", "m"},
	{0, 1, 52, 0, 0}:    {"tprate", "Total precipitation rate", "kg m**-2 s**-1"},
	{0, 1, 1, 0, 0}:     {"r", "Relative humidity", "%"},
	{0, 1, 0, 0, 0}:     {"q", "Specific humidity", "kg kg**-1"},
	{0, 0, 0, 103, 2}:   {"2t", "2 metre temperature", "K"},
	{0, 0, 6, 103, 2}:   {"2d", "2 metre dewpoint temperature", "K"},
	{0, 0, 0, 0, 0}:     {"t", "Temperature", "K"},
	{0, 2, 2, 103, 10}:  {"10u", "10 metre U wind component", "m s**-1"},
	{0, 2, 3, 103, 10}:  {"10v", "10 metre V wind component", "m s**-1"},
	{0, 2, 2, 0, 0}:     {"u", "U component of wind", "m s**-1"},
	{0, 2, 3, 0, 0}:     {"v", "V component of wind", "m s**-1"},
	{0, 2, 8, 0, 0}:     {"w", "Vertical velocity", "Pa s**-1"},
	{0, 3, 0, 1, 0}:     {"sp", "Surface pressure", "Pa"},
	{0, 3, 0, 101, 0}:   {"msl", "Mean sea level pressure", "Pa"},
	{0, 3, 1, 0, 0}:     {"msl", "Mean sea level pressure", "Pa"},
	{0, 3, 5, 0, 0}:     {"gh", "Geopotential height", "gpm"},
	{0, 6, 1, 0, 0}:     {"tcc", "Total cloud cover", "%"},
	{0, 4, 9, 0, 0}:     {"ssr", "Surface net short-wave radiation", "J m**-2"},
	{2, 0, 22, 106, 0}:  {"sot", "Soil temperature", "K"},
	{10, 0, 3, 0, 0}:    {"swh", "Significant height of combined wind waves and swell", "m"},
	{10, 0, 11, 0, 0}:   {"mwp", "Mean wave period", "s"},
	{10, 0, 10, 0, 0}:   {"mwd", "Mean wave direction", "Degree true"},
}

// Lookup returns the parameter of f. Unknown codes get a generated name so
// that every field can be written out.
func Lookup(f *Field) Param {
	if p, ok := paramTable[paramKey{f.Discipline, f.Category, f.Number, f.Surface, f.Level}]; ok {
		return p
	}
	if p, ok := paramTable[paramKey{f.Discipline, f.Category, f.Number, 0, 0}]; ok {
		return p
	}
	return Param{
		ShortName: fmt.Sprintf("p%d_%d_%d", f.Discipline, f.Category, f.Number),
		LongName:  "unknown",
		Units:     "unknown",
	}
}

// typeCodes maps ECMWF type keys to code table 1.4 (type of processed data).
var typeCodes = map[string]int{
	"an": 0,
	"fc": 1,
	"cf": 3,
	"pf": 4,
}

// TypeCode returns the code table 1.4 value for an ECMWF type key such as
// "cf" or "pf".
func TypeCode(typ string) (int, error) {
	code, ok := typeCodes[strings.ToLower(strings.TrimSpace(typ))]
	if !ok {
		return 0, errors.Wrapf(ErrUnsupported, "type %q", typ)
	}
	return code, nil
}
