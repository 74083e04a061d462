// Package grib decodes GRIB edition 2 messages on regular latitude/longitude
// grids into datasets.
//
// GRIB2 is specified in WMO Manual on Codes No. 306, FM 92 GRIB.
package grib

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNotGRIB2 is returned when the input holds no GRIB message.
	ErrNotGRIB2 = errors.New("not a GRIB2 file")
	// ErrUnsupported is returned for editions and templates the decoder does not handle.
	ErrUnsupported = errors.New("unsupported GRIB2 feature")
	// ErrNoMessages is returned when no message matches the requested type.
	ErrNoMessages = errors.New("no GRIB2 messages match")
)

// Grid is a regular latitude/longitude grid (template 3.0). Angles are in degrees.
type Grid struct {
	Ni, Nj   int
	La1, Lo1 float64
	La2, Lo2 float64
	Di, Dj   float64
	ScanMode byte
}

// Latitudes returns the Nj row latitudes in scan order.
func (g Grid) Latitudes() []float64 {
	step := -g.Dj
	if g.ScanMode&0x40 != 0 {
		step = g.Dj
	}
	out := make([]float64, g.Nj)
	for j := range out {
		out[j] = round6(g.La1 + float64(j)*step)
	}
	return out
}

// Longitudes returns the Ni column longitudes in scan order, in [0, 360).
func (g Grid) Longitudes() []float64 {
	step := g.Di
	if g.ScanMode&0x80 != 0 {
		step = -g.Di
	}
	out := make([]float64, g.Ni)
	for i := range out {
		lon := math.Mod(g.Lo1+float64(i)*step, 360)
		if lon < 0 {
			lon += 360
		}
		out[i] = round6(lon)
	}
	return out
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Field is one decoded data field.
type Field struct {
	Discipline  int
	Category    int
	Number      int
	TypeOfData  int
	RefTime     time.Time
	StepHours   int
	Surface     int
	Level       float64
	Member      int
	HasMember   bool
	Grid        Grid
	Values      []float64
	MessageSize int
}

// ReadFile decodes every field in the file at path.
func ReadFile(path string) ([]*Field, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Read(data)
}

// Read decodes every field of every message in data. Bytes between
// messages are skipped.
func Read(data []byte) ([]*Field, error) {
	var fields []*Field
	start := 0
	for {
		idx := bytes.Index(data[start:], []byte("GRIB"))
		if idx < 0 {
			break
		}
		start += idx
		msg, n, err := readMessage(data[start:])
		if err != nil {
			return nil, errors.Wrapf(err, "message at offset %d", start)
		}
		fields = append(fields, msg...)
		start += n
	}
	if len(fields) == 0 {
		return nil, ErrNotGRIB2
	}
	return fields, nil
}

// readMessage parses one message starting at data[0] and returns its
// fields and its total length.
func readMessage(data []byte) ([]*Field, int, error) {
	/*
		Section 0 - Indicator section
		1-4   GRIB
		5-6   reserved
		7     discipline (code table 0.0)
		8     edition number
		9-16  total length of message
	*/
	if len(data) < 16 {
		return nil, 0, errors.Wrap(ErrNotGRIB2, "truncated indicator section")
	}
	if data[7] != 2 {
		return nil, 0, errors.Wrapf(ErrUnsupported, "GRIB edition %d", data[7])
	}
	discipline := int(data[6])
	total := binary.BigEndian.Uint64(data[8:16])
	if total < 16 || total > uint64(len(data)) {
		return nil, 0, errors.Errorf("message length %d exceeds %d available bytes", total, len(data))
	}
	msg := data[:total]

	var (
		fields []*Field
		id     identification
		grid   Grid
		prod   product
		repr   representation
		bitmap []byte
	)
	pos := 16
	for pos < len(msg) {
		if string(msg[pos:min(pos+4, len(msg))]) == "7777" {
			return fields, int(total), nil
		}
		if pos+5 > len(msg) {
			return nil, 0, errors.New("truncated section header")
		}
		size := int(binary.BigEndian.Uint32(msg[pos:]))
		num := msg[pos+4]
		if size < 5 || pos+size > len(msg) {
			return nil, 0, errors.Errorf("section %d: bad length %d", num, size)
		}
		sec := msg[pos : pos+size]
		var err error
		switch num {
		case 1:
			id, err = parseIdentification(sec)
		case 2:
			// local use
		case 3:
			grid, err = parseGrid(sec)
		case 4:
			prod, err = parseProduct(sec)
		case 5:
			repr, err = parseRepresentation(sec)
		case 6:
			bitmap, err = parseBitmap(sec, bitmap)
		case 7:
			var values []float64
			values, err = unpack(sec[5:], repr, bitmap, grid.Ni*grid.Nj)
			if err == nil {
				fields = append(fields, &Field{
					Discipline:  discipline,
					Category:    prod.category,
					Number:      prod.number,
					TypeOfData:  id.typeOfData,
					RefTime:     id.refTime,
					StepHours:   prod.stepHours,
					Surface:     prod.surface,
					Level:       prod.level,
					Member:      prod.member,
					HasMember:   prod.hasMember,
					Grid:        grid,
					Values:      values,
					MessageSize: int(total),
				})
			}
		default:
			err = errors.Errorf("unknown section number %d", num)
		}
		if err != nil {
			return nil, 0, errors.Wrapf(err, "section %d", num)
		}
		pos += size
	}
	return nil, 0, errors.New("missing end section")
}
