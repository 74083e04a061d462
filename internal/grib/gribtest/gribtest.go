// Package gribtest builds small GRIB2 messages for tests.
package gribtest

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"github.com/ashkanshokri/ecmwf-downloader/internal/grib/aec"
)

// Field describes one message. Lat/lon are in degrees; the grid is scanned
// west to east and north to south. NaN values are written through a bitmap.
type Field struct {
	Discipline int
	Category   int
	Number     int
	TypeOfData int
	RefTime    time.Time
	// Step is the forecast hour. With Accumulated set the field uses an
	// accumulation from hour 0 to Step.
	Step        int
	Accumulated bool
	// Member is the perturbation number; negative means a deterministic
	// template without ensemble information.
	Member int
	// Surface is the type of first fixed surface (code table 4.5) and Level
	// its value in the surface's unit. Zero Surface writes the ground
	// surface without a level.
	Surface int
	Level   int

	Ni, Nj   int
	La1, Lo1 float64
	Di, Dj   float64
	Values   []float64

	// DecimalScale is the power of ten values are multiplied by before packing.
	DecimalScale int
	// CCSDS packs the data with template 5.42 instead of simple packing.
	CCSDS bool
}

// OpenDataCCSDS holds the CCSDS settings written by ECMWF open-data products.
var OpenDataCCSDS = aec.Params{
	BlockSize: 32,
	RSI:       128,
	Flags:     aec.DataMSB | aec.DataPreprocess | aec.Data3Byte,
}

// Precip returns a total-precipitation field on the given grid filled with
// values produced by fn(i, j).
func Precip(typeOfData, member int, ref time.Time, step int, la1, lo1, d float64, ni, nj int, fn func(i, j int) float64) Field {
	values := make([]float64, 0, ni*nj)
	for j := 0; j < nj; j++ {
		for i := 0; i < ni; i++ {
			values = append(values, fn(i, j))
		}
	}
	return Field{
		Discipline:   0,
		Category:     1,
		Number:       8,
		TypeOfData:   typeOfData,
		RefTime:      ref,
		Step:         step,
		Accumulated:  true,
		Member:       member,
		Ni:           ni,
		Nj:           nj,
		La1:          la1,
		Lo1:          lo1,
		Di:           d,
		Dj:           d,
		Values:       values,
		DecimalScale: 2,
	}
}

// Encode concatenates one message per field.
func Encode(fields ...Field) []byte {
	var out bytes.Buffer
	for _, f := range fields {
		out.Write(Message(f))
	}
	return out.Bytes()
}

// Message encodes f as a single GRIB2 message.
func Message(f Field) []byte {
	var body bytes.Buffer
	body.Write(section1(f))
	body.Write(section3(f))
	body.Write(section4(f))
	packed, bitmap, n, r, nbits := pack(f)
	body.Write(section5(f, n, r, nbits))
	body.Write(section6(bitmap))
	body.Write(section(7, packed))

	var msg bytes.Buffer
	msg.WriteString("GRIB")
	msg.Write([]byte{0, 0, byte(f.Discipline), 2})
	total := uint64(16 + body.Len() + 4)
	_ = binary.Write(&msg, binary.BigEndian, total)
	msg.Write(body.Bytes())
	msg.WriteString("7777")
	return msg.Bytes()
}

func section(num byte, payload []byte) []byte {
	out := make([]byte, 5, 5+len(payload))
	binary.BigEndian.PutUint32(out, uint32(5+len(payload)))
	out[4] = num
	return append(out, payload...)
}

func sm32(v int) uint32 {
	if v < 0 {
		return uint32(-v) | 0x80000000
	}
	return uint32(v)
}

func sm16(v int) uint16 {
	if v < 0 {
		return uint16(-v) | 0x8000
	}
	return uint16(v)
}

func micro(deg float64) uint32 { return sm32(int(math.Round(deg * 1e6))) }

func section1(f Field) []byte {
	p := make([]byte, 16)
	binary.BigEndian.PutUint16(p[0:], 98) // centre: ECMWF
	p[4] = 2                              // master tables version
	p[6] = 1                              // start of forecast
	binary.BigEndian.PutUint16(p[7:], uint16(f.RefTime.Year()))
	p[9] = byte(f.RefTime.Month())
	p[10] = byte(f.RefTime.Day())
	p[11] = byte(f.RefTime.Hour())
	p[12] = byte(f.RefTime.Minute())
	p[13] = byte(f.RefTime.Second())
	p[14] = 0
	p[15] = byte(f.TypeOfData)
	return section(1, p)
}

func section3(f Field) []byte {
	// Octet k of the section is p[k-6].
	p := make([]byte, 67)
	binary.BigEndian.PutUint32(p[1:], uint32(f.Ni*f.Nj))
	p[9] = 6 // spherical earth, radius 6371229 m
	binary.BigEndian.PutUint32(p[25:], uint32(f.Ni))
	binary.BigEndian.PutUint32(p[29:], uint32(f.Nj))
	binary.BigEndian.PutUint32(p[33:], 0)
	binary.BigEndian.PutUint32(p[37:], 0xffffffff)
	la2 := f.La1 - float64(f.Nj-1)*f.Dj
	lo2 := f.Lo1 + float64(f.Ni-1)*f.Di
	binary.BigEndian.PutUint32(p[41:], micro(f.La1))
	binary.BigEndian.PutUint32(p[45:], micro(f.Lo1))
	p[49] = 0x30
	binary.BigEndian.PutUint32(p[50:], micro(la2))
	binary.BigEndian.PutUint32(p[54:], micro(lo2))
	binary.BigEndian.PutUint32(p[58:], micro(f.Di))
	binary.BigEndian.PutUint32(p[62:], micro(f.Dj))
	p[66] = 0
	return section(3, p)
}

func section4(f Field) []byte {
	tmpl := 0
	switch {
	case f.Member >= 0 && f.Accumulated:
		tmpl = 11
	case f.Member >= 0:
		tmpl = 1
	case f.Accumulated:
		tmpl = 8
	}
	// Octets 6 onwards of template 4.0.
	p := make([]byte, 29)
	binary.BigEndian.PutUint16(p[2:], uint16(tmpl))
	p[4] = byte(f.Category)
	p[5] = byte(f.Number)
	p[6] = 4  // ensemble forecast
	p[12] = 1 // hours
	forecast := f.Step
	if f.Accumulated {
		forecast = 0
	}
	binary.BigEndian.PutUint32(p[13:], sm32(forecast))
	if f.Surface != 0 {
		p[17] = byte(f.Surface)
		p[18] = 0
		binary.BigEndian.PutUint32(p[19:], uint32(f.Level))
	} else {
		p[17] = 1 // ground or water surface
		p[18] = 0xff
		binary.BigEndian.PutUint32(p[19:], 0xffffffff)
	}
	p[23] = 0xff
	p[24] = 0xff
	binary.BigEndian.PutUint32(p[25:], 0xffffffff)
	if f.Member >= 0 {
		p = append(p, 3, byte(f.Member), 51)
	}
	if f.Accumulated {
		end := f.RefTime.Add(time.Duration(f.Step) * time.Hour)
		stat := make([]byte, 24)
		binary.BigEndian.PutUint16(stat[0:], uint16(end.Year()))
		stat[2] = byte(end.Month())
		stat[3] = byte(end.Day())
		stat[4] = byte(end.Hour())
		stat[5] = byte(end.Minute())
		stat[6] = byte(end.Second())
		stat[7] = 1  // one time range
		stat[12] = 1 // accumulation
		stat[13] = 2
		stat[14] = 1 // hours
		binary.BigEndian.PutUint32(stat[15:], uint32(f.Step))
		stat[19] = 1
		p = append(p, stat...)
	}
	return section(4, p)
}

func section5(f Field, n int, r float32, nbits int) []byte {
	p := make([]byte, 16)
	binary.BigEndian.PutUint32(p[0:], uint32(n))
	binary.BigEndian.PutUint32(p[6:], math.Float32bits(r))
	binary.BigEndian.PutUint16(p[10:], sm16(0))
	binary.BigEndian.PutUint16(p[12:], sm16(f.DecimalScale))
	p[14] = byte(nbits)
	p[15] = 0
	if f.CCSDS {
		binary.BigEndian.PutUint16(p[4:], 42)
		p = append(p, byte(OpenDataCCSDS.Flags), byte(OpenDataCCSDS.BlockSize), 0, 0)
		binary.BigEndian.PutUint16(p[18:], uint16(OpenDataCCSDS.RSI))
	}
	return section(5, p)
}

func section6(bitmap []byte) []byte {
	if bitmap == nil {
		return section(6, []byte{255})
	}
	return section(6, append([]byte{0}, bitmap...))
}

// pack applies simple packing with binary scale 0.
func pack(f Field) (packed, bitmap []byte, n int, ref float32, nbits int) {
	scale := math.Pow10(f.DecimalScale)
	var present []float64
	for i, v := range f.Values {
		if math.IsNaN(v) {
			if bitmap == nil {
				bitmap = make([]byte, (len(f.Values)+7)/8)
				for k := 0; k < i; k++ {
					bitmap[k/8] |= 0x80 >> (k % 8)
				}
			}
			continue
		}
		if bitmap != nil {
			bitmap[i/8] |= 0x80 >> (i % 8)
		}
		present = append(present, math.Round(v*scale))
	}
	if len(present) == 0 {
		return nil, bitmap, 0, 0, 0
	}
	lo, hi := present[0], present[0]
	for _, v := range present {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	span := uint64(hi - lo)
	for span>>nbits != 0 {
		nbits++
	}
	if f.CCSDS {
		if nbits == 0 {
			return nil, bitmap, len(present), float32(lo), 0
		}
		codes := make([]uint32, len(present))
		for i, v := range present {
			codes[i] = uint32(v - lo)
		}
		p := OpenDataCCSDS
		p.BitsPerSample = nbits
		packed, err := aec.Encode(codes, p)
		if err != nil {
			panic(err)
		}
		return packed, bitmap, len(present), float32(lo), nbits
	}
	w := &bitWriter{}
	for _, v := range present {
		w.write(uint64(v-lo), nbits)
	}
	return w.bytes(), bitmap, len(present), float32(lo), nbits
}

type bitWriter struct {
	buf  []byte
	nbit int
}

func (w *bitWriter) write(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		if w.nbit%8 == 0 {
			w.buf = append(w.buf, 0)
		}
		if v>>i&1 == 1 {
			w.buf[len(w.buf)-1] |= 0x80 >> (w.nbit % 8)
		}
		w.nbit++
	}
}

func (w *bitWriter) bytes() []byte { return w.buf }
