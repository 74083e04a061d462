// Package aec implements the CCSDS 121.0 adaptive entropy coder used by
// GRIB2 data representation template 5.42 (CCSDS recommended lossless
// compression).
//
// Decode mirrors the reference decoder libaec: blocks of BlockSize samples
// coded as zero blocks, second extension, split-sample or uncompressed
// blocks, grouped in reference sample intervals of RSI blocks, with optional
// unit-delay preprocessing.
package aec

import (
	"github.com/pkg/errors"
)

// Flags as stored in the ccsdsFlags octet of template 5.42.
const (
	DataSigned     = 1
	Data3Byte      = 2
	DataMSB        = 4
	DataPreprocess = 8
	Restricted     = 16
	PadRSI         = 32
	NotEnforce     = 64
)

const (
	// ros is the zero-block count meaning "to the end of the segment".
	ros = 5
	// seMax is the largest second-extension codeword.
	seMax = 90
)

var (
	ErrParams  = errors.New("invalid AEC parameters")
	ErrCorrupt = errors.New("corrupt AEC stream")
)

// Params are the coder settings of one stream.
type Params struct {
	BitsPerSample int
	BlockSize     int
	RSI           int
	Flags         int
}

func (p Params) validate() error {
	if p.BitsPerSample < 1 || p.BitsPerSample > 32 {
		return errors.Wrapf(ErrParams, "bits per sample %d", p.BitsPerSample)
	}
	switch p.BlockSize {
	case 8, 16, 32, 64:
	default:
		if p.Flags&NotEnforce == 0 || p.BlockSize < 2 || p.BlockSize%2 != 0 {
			return errors.Wrapf(ErrParams, "block size %d", p.BlockSize)
		}
	}
	if p.RSI < 1 || p.RSI > 4096 {
		return errors.Wrapf(ErrParams, "reference sample interval %d", p.RSI)
	}
	if p.Flags&DataSigned != 0 {
		return errors.Wrap(ErrParams, "signed samples")
	}
	return nil
}

func (p Params) idLen() int {
	n := p.BitsPerSample
	switch {
	case p.Flags&Restricted != 0 && n <= 2:
		return 1
	case p.Flags&Restricted != 0 && n <= 4:
		return 2
	case n <= 8:
		return 3
	case n <= 16:
		return 4
	default:
		return 5
	}
}

func (p Params) xmax() uint32 {
	return uint32(uint64(1)<<p.BitsPerSample - 1)
}

// seTable maps a second-extension codeword to the pair sum and the first
// codeword with that sum.
var seTable = func() (t [seMax + 1][2]uint32) {
	m := 0
	for sum := uint32(0); m <= seMax; sum++ {
		base := uint32(m)
		for j := uint32(0); j <= sum && m <= seMax; j++ {
			t[m] = [2]uint32{sum, base}
			m++
		}
	}
	return t
}()

type bitReader struct {
	data []byte
	pos  int
}

func (r *bitReader) read(n int) (uint32, error) {
	if n == 0 {
		return 0, nil
	}
	if r.pos+n > len(r.data)*8 {
		return 0, errors.Wrap(ErrCorrupt, "unexpected end of stream")
	}
	var v uint64
	for i := 0; i < n; i++ {
		bit := r.pos + i
		v = v<<1 | uint64(r.data[bit/8]>>(7-bit%8)&1)
	}
	r.pos += n
	return uint32(v), nil
}

// fs reads a fundamental sequence codeword: zeros terminated by a one.
func (r *bitReader) fs() (uint32, error) {
	var n uint32
	for {
		b, err := r.read(1)
		if err != nil {
			return 0, err
		}
		if b == 1 {
			return n, nil
		}
		n++
	}
}

func (r *bitReader) align() {
	r.pos = (r.pos + 7) / 8 * 8
}

type decoder struct {
	p     Params
	r     *bitReader
	idLen int
}

// Decode returns the first n samples coded in data.
func Decode(data []byte, p Params, n int) ([]uint32, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	d := &decoder{p: p, r: &bitReader{data: data}, idLen: p.idLen()}
	pp := p.Flags&DataPreprocess != 0
	out := make([]uint32, 0, n)
	var codes []uint32
	for len(out) < n {
		codes = codes[:0]
		for b := 0; b < p.RSI && len(out)+len(codes) < n; {
			var (
				used int
				err  error
			)
			codes, used, err = d.block(codes, pp && b == 0, b)
			if err != nil {
				return nil, errors.Wrapf(err, "sample %d", len(out)+len(codes))
			}
			b += used
		}
		if pp {
			out = d.postprocess(out, codes)
		} else {
			out = append(out, codes...)
		}
		if p.Flags&PadRSI != 0 {
			d.r.align()
		}
	}
	return out[:n], nil
}

// block decodes one coded block, or a run of zero blocks, appending to buf.
// It returns the number of blocks consumed.
func (d *decoder) block(buf []uint32, ref bool, b int) ([]uint32, int, error) {
	j := d.p.BlockSize
	first := 0
	if ref {
		first = 1
	}
	id, err := d.r.read(d.idLen)
	if err != nil {
		return buf, 0, err
	}
	switch {
	case id == 0:
		second, err := d.r.read(1)
		if err != nil {
			return buf, 0, err
		}
		if ref {
			x, err := d.r.read(d.p.BitsPerSample)
			if err != nil {
				return buf, 0, err
			}
			buf = append(buf, x)
		}
		if second == 1 {
			for i := first; i < j; {
				m, err := d.r.fs()
				if err != nil {
					return buf, 0, err
				}
				if m > seMax {
					return buf, 0, errors.Wrapf(ErrCorrupt, "second extension codeword %d", m)
				}
				sum, base := seTable[m][0], seTable[m][1]
				d1 := m - base
				if i&1 == 0 {
					buf = append(buf, sum-d1)
					i++
				}
				buf = append(buf, d1)
				i++
			}
			return buf, 1, nil
		}
		fs, err := d.r.fs()
		if err != nil {
			return buf, 0, err
		}
		zero := int(fs) + 1
		if zero == ros {
			zero = min(d.p.RSI-b, 64-b%64)
		} else if zero > ros {
			zero--
		}
		for i := 0; i < zero*j-first; i++ {
			buf = append(buf, 0)
		}
		return buf, zero, nil

	case id == 1<<d.idLen-1:
		for i := 0; i < j; i++ {
			x, err := d.r.read(d.p.BitsPerSample)
			if err != nil {
				return buf, 0, err
			}
			buf = append(buf, x)
		}
		return buf, 1, nil

	default:
		k := int(id) - 1
		if ref {
			x, err := d.r.read(d.p.BitsPerSample)
			if err != nil {
				return buf, 0, err
			}
			buf = append(buf, x)
		}
		start := len(buf)
		for i := first; i < j; i++ {
			m, err := d.r.fs()
			if err != nil {
				return buf, 0, err
			}
			buf = append(buf, m<<k)
		}
		for i := start; i < len(buf); i++ {
			low, err := d.r.read(k)
			if err != nil {
				return buf, 0, err
			}
			buf[i] += low
		}
		return buf, 1, nil
	}
}

// postprocess undoes the unit-delay predictor of one interval. codes[0] is
// the reference sample.
func (d *decoder) postprocess(out, codes []uint32) []uint32 {
	if len(codes) == 0 {
		return out
	}
	xmax := d.p.xmax()
	med := xmax/2 + 1
	data := codes[0]
	out = append(out, data)
	for _, c := range codes[1:] {
		half := c>>1 + c&1
		var mask uint32
		if data&med != 0 {
			mask = xmax
		}
		if half <= mask^data {
			if c&1 == 0 {
				data += c >> 1
			} else {
				data -= c>>1 + 1
			}
		} else {
			data = mask ^ c
		}
		out = append(out, data)
	}
	return out
}
