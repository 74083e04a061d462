package grib

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/ashkanshokri/ecmwf-downloader/internal/grib/aec"
)

type identification struct {
	refTime    time.Time
	typeOfData int
}

type product struct {
	category  int
	number    int
	stepHours int
	surface   int
	level     float64
	member    int
	hasMember bool
}

type representation struct {
	template  int
	numPoints int
	ref       float64
	binScale  int
	decScale  int
	nbits     int
	ccsds     aec.Params
}

// Octet helpers take 1-based octet numbers, as the WMO tables do.

func u8(sec []byte, octet int) int { return int(sec[octet-1]) }

func u16(sec []byte, octet int) int { return int(binary.BigEndian.Uint16(sec[octet-1:])) }

func u32(sec []byte, octet int) int { return int(binary.BigEndian.Uint32(sec[octet-1:])) }

// s16 and s32 read sign-and-magnitude integers: the top bit is the sign.
func s16(sec []byte, octet int) int {
	v := binary.BigEndian.Uint16(sec[octet-1:])
	if v&0x8000 != 0 {
		return -int(v & 0x7fff)
	}
	return int(v)
}

func s32(sec []byte, octet int) int {
	v := binary.BigEndian.Uint32(sec[octet-1:])
	if v&0x80000000 != 0 {
		return -int(v & 0x7fffffff)
	}
	return int(v)
}

func need(sec []byte, n int) error {
	if len(sec) < n {
		return errors.Errorf("section is %d octets, need %d", len(sec), n)
	}
	return nil
}

func parseIdentification(sec []byte) (identification, error) {
	/*
		13-14 year, 15 month, 16 day, 17 hour, 18 minute, 19 second
		21    type of processed data (code table 1.4)
	*/
	if err := need(sec, 21); err != nil {
		return identification{}, err
	}
	ref := time.Date(u16(sec, 13), time.Month(u8(sec, 15)), u8(sec, 16),
		u8(sec, 17), u8(sec, 18), u8(sec, 19), 0, time.UTC)
	return identification{refTime: ref, typeOfData: u8(sec, 21)}, nil
}

func parseGrid(sec []byte) (Grid, error) {
	if err := need(sec, 14); err != nil {
		return Grid{}, err
	}
	if tmpl := u16(sec, 13); tmpl != 0 {
		return Grid{}, errors.Wrapf(ErrUnsupported, "grid definition template 3.%d", tmpl)
	}
	/*
		Template 3.0
		31-34 Ni, 35-38 Nj
		47-50 La1, 51-54 Lo1, 56-59 La2, 60-63 Lo2
		64-67 Di, 68-71 Dj, 72 scanning mode
	*/
	if err := need(sec, 72); err != nil {
		return Grid{}, err
	}
	const micro = 1e6
	g := Grid{
		Ni:       u32(sec, 31),
		Nj:       u32(sec, 35),
		La1:      float64(s32(sec, 47)) / micro,
		Lo1:      float64(s32(sec, 51)) / micro,
		La2:      float64(s32(sec, 56)) / micro,
		Lo2:      float64(s32(sec, 60)) / micro,
		Di:       float64(s32(sec, 64)) / micro,
		Dj:       float64(s32(sec, 68)) / micro,
		ScanMode: sec[71],
	}
	if g.ScanMode&0x20 != 0 {
		return Grid{}, errors.Wrap(ErrUnsupported, "column-major scanning")
	}
	if g.Ni <= 0 || g.Nj <= 0 {
		return Grid{}, errors.Errorf("empty grid %dx%d", g.Ni, g.Nj)
	}
	return g, nil
}

func parseProduct(sec []byte) (product, error) {
	if err := need(sec, 9); err != nil {
		return product{}, err
	}
	tmpl := u16(sec, 8)
	/*
		Template 4.0
		10 parameter category, 11 parameter number
		18 unit of time range, 19-22 forecast time
		23 type of first fixed surface, 24 scale factor, 25-28 scaled value
		4.1 adds 35 type of ensemble forecast, 36 perturbation number
		4.8 appends the statistical time range at 35, 4.11 at 38
	*/
	var statAt int
	switch tmpl {
	case 0, 1:
	case 8:
		statAt = 35
	case 11:
		statAt = 38
	default:
		return product{}, errors.Wrapf(ErrUnsupported, "product definition template 4.%d", tmpl)
	}
	if err := need(sec, 34); err != nil {
		return product{}, err
	}
	p := product{
		category: u8(sec, 10),
		number:   u8(sec, 11),
		surface:  u8(sec, 23),
	}
	step, err := hours(u8(sec, 18), s32(sec, 19))
	if err != nil {
		return product{}, err
	}
	if scale, value := sec[23], u32(sec, 25); scale != 0xff && uint32(value) != math.MaxUint32 {
		exp := int(scale & 0x7f)
		if scale&0x80 != 0 {
			exp = -exp
		}
		p.level = float64(value) / math.Pow10(exp)
	}
	if tmpl == 1 || tmpl == 11 {
		if err := need(sec, 37); err != nil {
			return product{}, err
		}
		p.member = u8(sec, 36)
		p.hasMember = true
	}
	if statAt > 0 {
		/*
			Relative to statAt: 0-6 end of overall time interval, 7 number of
			ranges, 8-11 missing values, 12 statistical process, 13 type of
			time increment, 14 unit of time range, 15-18 length of range
		*/
		if err := need(sec, statAt+18); err != nil {
			return product{}, err
		}
		length, err := hours(u8(sec, statAt+14), s32(sec, statAt+15))
		if err != nil {
			return product{}, err
		}
		step += length
	}
	p.stepHours = step
	return p, nil
}

// hours converts a time value in the given unit (code table 4.4) to hours.
func hours(unit, value int) (int, error) {
	switch unit {
	case 0:
		return value / 60, nil
	case 1:
		return value, nil
	case 2:
		return value * 24, nil
	case 10:
		return value * 3, nil
	case 11:
		return value * 6, nil
	case 12:
		return value * 12, nil
	case 13:
		return value / 3600, nil
	default:
		return 0, errors.Wrapf(ErrUnsupported, "time unit %d", unit)
	}
}

func parseRepresentation(sec []byte) (representation, error) {
	if err := need(sec, 11); err != nil {
		return representation{}, err
	}
	tmpl := u16(sec, 10)
	if tmpl != 0 && tmpl != 42 {
		return representation{}, errors.Wrapf(ErrUnsupported, "data representation template 5.%d", tmpl)
	}
	/*
		Templates 5.0 and 5.42
		6-9   number of packed values
		12-15 reference value R (IEEE 32-bit float)
		16-17 binary scale factor E
		18-19 decimal scale factor D
		20    bits per packed value
		5.42 adds 22 CCSDS flags, 23 block size, 24-25 reference sample interval
	*/
	if err := need(sec, 21); err != nil {
		return representation{}, err
	}
	r := representation{
		template:  tmpl,
		numPoints: u32(sec, 6),
		ref:       float64(math.Float32frombits(binary.BigEndian.Uint32(sec[11:]))),
		binScale:  s16(sec, 16),
		decScale:  s16(sec, 18),
		nbits:     u8(sec, 20),
	}
	if tmpl == 42 {
		if err := need(sec, 25); err != nil {
			return representation{}, err
		}
		r.ccsds = aec.Params{
			BitsPerSample: r.nbits,
			Flags:         u8(sec, 22),
			BlockSize:     u8(sec, 23),
			RSI:           u16(sec, 24),
		}
	}
	return r, nil
}

// parseBitmap returns the bitmap of section 6, nil when there is none, or
// prev when the section says the previous bitmap applies.
func parseBitmap(sec []byte, prev []byte) ([]byte, error) {
	if err := need(sec, 6); err != nil {
		return nil, err
	}
	switch ind := sec[5]; ind {
	case 0:
		return sec[6:], nil
	case 254:
		if prev == nil {
			return nil, errors.New("bitmap refers to a previous bitmap that does not exist")
		}
		return prev, nil
	case 255:
		return nil, nil
	default:
		return nil, errors.Wrapf(ErrUnsupported, "predefined bitmap %d", ind)
	}
}

// unpack expands simple-packed data to n grid values. Points masked out by
// the bitmap are NaN.
func unpack(data []byte, r representation, bitmap []byte, n int) ([]float64, error) {
	present := n
	if bitmap != nil {
		if len(bitmap)*8 < n {
			return nil, errors.Errorf("bitmap covers %d points, grid has %d", len(bitmap)*8, n)
		}
		present = 0
		for i := 0; i < n; i++ {
			if bitSet(bitmap, i) {
				present++
			}
		}
	}
	if r.numPoints != present {
		return nil, errors.Errorf("%d packed values for %d grid points", r.numPoints, present)
	}
	codes, err := r.codes(data, present)
	if err != nil {
		return nil, err
	}

	bscale := math.Pow(2, float64(r.binScale))
	dscale := math.Pow10(r.decScale)
	out := make([]float64, n)
	k := 0
	for i := range out {
		if bitmap != nil && !bitSet(bitmap, i) {
			out[i] = math.NaN()
			continue
		}
		out[i] = (r.ref + float64(codes[k])*bscale) / dscale
		k++
	}
	return out, nil
}

// codes returns the n packed integers of the data section.
func (r representation) codes(data []byte, n int) ([]uint32, error) {
	if r.nbits == 0 {
		return make([]uint32, n), nil
	}
	if r.template == 42 {
		codes, err := aec.Decode(data, r.ccsds, n)
		return codes, errors.Wrap(err, "ccsds")
	}
	if r.nbits > 32 {
		return nil, errors.Wrapf(ErrUnsupported, "%d bits per value", r.nbits)
	}
	if need := (n*r.nbits + 7) / 8; len(data) < need {
		return nil, errors.Errorf("data section is %d octets, need %d", len(data), need)
	}
	codes := make([]uint32, n)
	for i := range codes {
		codes[i] = uint32(readBits(data, i*r.nbits, r.nbits))
	}
	return codes, nil
}

func bitSet(b []byte, i int) bool {
	return b[i/8]&(0x80>>(i%8)) != 0
}

func readBits(data []byte, offset, n int) int {
	v := 0
	for i := 0; i < n; i++ {
		bit := offset + i
		v <<= 1
		if data[bit/8]&(0x80>>(bit%8)) != 0 {
			v |= 1
		}
	}
	return v
}
