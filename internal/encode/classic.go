package encode

import (
	"bufio"
	"encoding/binary"
	"math"
	"os"

	"github.com/pkg/errors"

	"github.com/ashkanshokri/ecmwf-downloader/internal/dataset"
)

// Tags and type codes of the classic NetCDF header.
const (
	ncDimension = 0x0A
	ncVariable  = 0x0B
	ncAttribute = 0x0C

	ncChar   = 2
	ncFloat  = 5
	ncDouble = 6
)

// Classic writes uncompressed NetCDF in the 64-bit offset format (CDF-2).
// It has no record dimension; every variable is stored contiguously.
type Classic struct{}

func (Classic) Name() string { return "netcdf3" }

func (Classic) Encode(ds *dataset.Dataset, path string) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	w := bufio.NewWriter(f)
	if err := writeClassic(w, ds); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "flush output")
	}
	return errors.Wrap(f.Close(), "close output")
}

type header struct {
	buf []byte
}

func (h *header) u32(v uint32) { h.buf = binary.BigEndian.AppendUint32(h.buf, v) }
func (h *header) u64(v uint64) { h.buf = binary.BigEndian.AppendUint64(h.buf, v) }

func (h *header) name(s string) {
	h.u32(uint32(len(s)))
	h.buf = append(h.buf, s...)
	h.pad()
}

func (h *header) pad() {
	for len(h.buf)%4 != 0 {
		h.buf = append(h.buf, 0)
	}
}

func (h *header) attrs(attrs []dataset.Attr) {
	if len(attrs) == 0 {
		h.u32(0)
		h.u32(0)
		return
	}
	h.u32(ncAttribute)
	h.u32(uint32(len(attrs)))
	for _, a := range attrs {
		h.name(a.Name)
		h.u32(ncChar)
		h.u32(uint32(len(a.Value)))
		h.buf = append(h.buf, a.Value...)
		h.pad()
	}
}

func elemSize(t dataset.DataType) int {
	if t == dataset.Float32 {
		return 4
	}
	return 8
}

func writeClassic(w *bufio.Writer, ds *dataset.Dataset) error {
	vars := append(append([]*dataset.Variable{}, ds.Coords...), ds.Vars...)
	dimID := map[string]int{}
	for i, d := range ds.Dims {
		dimID[d.Name] = i
	}

	sizes := make([]int, len(vars))
	for i, v := range vars {
		n := len(v.Data) * elemSize(v.Type)
		sizes[i] = (n + 3) &^ 3
	}

	build := func(begins []uint64) *header {
		h := &header{}
		h.buf = append(h.buf, 'C', 'D', 'F', 2)
		h.u32(0) // numrecs
		if len(ds.Dims) == 0 {
			h.u32(0)
			h.u32(0)
		} else {
			h.u32(ncDimension)
			h.u32(uint32(len(ds.Dims)))
			for _, d := range ds.Dims {
				h.name(d.Name)
				h.u32(uint32(d.Len))
			}
		}
		h.attrs(ds.Attrs)
		if len(vars) == 0 {
			h.u32(0)
			h.u32(0)
			return h
		}
		h.u32(ncVariable)
		h.u32(uint32(len(vars)))
		for i, v := range vars {
			h.name(v.Name)
			h.u32(uint32(len(v.Dims)))
			for _, d := range v.Dims {
				h.u32(uint32(dimID[d]))
			}
			h.attrs(v.Attrs)
			if v.Type == dataset.Float32 {
				h.u32(ncFloat)
			} else {
				h.u32(ncDouble)
			}
			h.u32(uint32(sizes[i]))
			h.u64(begins[i])
		}
		return h
	}

	// The header length does not depend on the offsets, so a first pass
	// with zero offsets sizes it.
	begins := make([]uint64, len(vars))
	offset := uint64(len(build(begins).buf))
	for i := range vars {
		begins[i] = offset
		offset += uint64(sizes[i])
	}
	if _, err := w.Write(build(begins).buf); err != nil {
		return errors.Wrap(err, "write header")
	}

	var scratch [8]byte
	for i, v := range vars {
		n := 0
		for _, x := range v.Data {
			if v.Type == dataset.Float32 {
				binary.BigEndian.PutUint32(scratch[:4], math.Float32bits(float32(x)))
				_, _ = w.Write(scratch[:4])
				n += 4
			} else {
				binary.BigEndian.PutUint64(scratch[:], math.Float64bits(x))
				_, _ = w.Write(scratch[:])
				n += 8
			}
		}
		for ; n < sizes[i]; n++ {
			_ = w.WriteByte(0)
		}
	}
	return nil
}
