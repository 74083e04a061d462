package aec

import (
	"github.com/pkg/errors"
)

type bitWriter struct {
	buf  []byte
	nbit int
}

func (w *bitWriter) write(v uint32, n int) {
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

func (w *bitWriter) fs(m uint32) {
	for ; m > 0; m-- {
		w.write(0, 1)
	}
	w.write(1, 1)
}

func (w *bitWriter) align() {
	w.nbit = len(w.buf) * 8
}

// Encode codes samples with p. Every sample must fit in BitsPerSample bits.
// Blocks are coded with whichever of zero block, second extension,
// split-sample or uncompressed is shortest; zero blocks are never merged
// into runs.
func Encode(samples []uint32, p Params) ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	xmax := p.xmax()
	for i, s := range samples {
		if s > xmax {
			return nil, errors.Wrapf(ErrParams, "sample %d does not fit in %d bits", i, p.BitsPerSample)
		}
	}
	pp := p.Flags&DataPreprocess != 0
	w := &bitWriter{}
	interval := p.RSI * p.BlockSize
	for start := 0; start < len(samples); start += interval {
		codes := append([]uint32(nil), samples[start:min(start+interval, len(samples))]...)
		if pp {
			codes = preprocess(codes, xmax)
		}
		for len(codes)%p.BlockSize != 0 {
			codes = append(codes, 0)
		}
		for b := 0; b*p.BlockSize < len(codes); b++ {
			encodeBlock(w, codes[b*p.BlockSize:(b+1)*p.BlockSize], pp && b == 0, p)
		}
		if p.Flags&PadRSI != 0 {
			w.align()
		}
	}
	return w.buf, nil
}

// preprocess maps the prediction residuals of one interval; the first
// sample is kept as the reference.
func preprocess(x []uint32, xmax uint32) []uint32 {
	out := make([]uint32, len(x))
	out[0] = x[0]
	for i := 1; i < len(x); i++ {
		pred, cur := x[i-1], x[i]
		theta := min(pred, xmax-pred)
		switch {
		case cur >= pred && cur-pred <= theta:
			out[i] = 2 * (cur - pred)
		case cur < pred && pred-cur <= theta:
			out[i] = 2*(pred-cur) - 1
		case cur >= pred:
			out[i] = theta + (cur - pred)
		default:
			out[i] = theta + (pred - cur)
		}
	}
	return out
}

const (
	optZero = iota
	optSecond
	optSplit
	optUncompressed
)

func encodeBlock(w *bitWriter, blk []uint32, ref bool, p Params) {
	n := p.BitsPerSample
	idLen := p.idLen()
	res := blk
	if ref {
		res = blk[1:]
	}

	refBits := 0
	if ref {
		refBits = n
	}
	opt, best, bestK := optUncompressed, len(blk)*n, 0
	zero := true
	for _, d := range res {
		if d != 0 {
			zero = false
			break
		}
	}
	if zero {
		opt = optZero
	} else {
		maxK := min(1<<idLen-3, n-1)
		for k := 0; k <= maxK; k++ {
			cost := refBits
			for _, d := range res {
				cost += int(d>>k) + 1 + k
			}
			if cost < best {
				opt, best, bestK = optSplit, cost, k
			}
		}
		if codes, ok := secondExtension(res, ref); ok {
			cost := refBits + 1
			for _, m := range codes {
				cost += int(m) + 1
			}
			if cost < best {
				opt = optSecond
			}
		}
	}

	switch opt {
	case optZero:
		w.write(0, idLen)
		w.write(0, 1)
		if ref {
			w.write(blk[0], n)
		}
		w.fs(0)
	case optSecond:
		codes, _ := secondExtension(res, ref)
		w.write(0, idLen)
		w.write(1, 1)
		if ref {
			w.write(blk[0], n)
		}
		for _, m := range codes {
			w.fs(m)
		}
	case optSplit:
		w.write(uint32(bestK+1), idLen)
		if ref {
			w.write(blk[0], n)
		}
		for _, d := range res {
			w.fs(d >> bestK)
		}
		for _, d := range res {
			w.write(d&(1<<bestK-1), bestK)
		}
	default:
		w.write(1<<idLen-1, idLen)
		for _, d := range blk {
			w.write(d, n)
		}
	}
}

// secondExtension pairs the residuals. After a reference sample the first
// residual is coded alone.
func secondExtension(res []uint32, ref bool) ([]uint32, bool) {
	var codes []uint32
	i := 0
	if ref {
		b := res[0]
		if b > 12 {
			return nil, false
		}
		codes = append(codes, b*(b+1)/2+b)
		i = 1
	}
	for ; i+1 < len(res); i += 2 {
		a, b := res[i], res[i+1]
		if a > 12 || b > 12 || a+b > 12 {
			return nil, false
		}
		sum := a + b
		codes = append(codes, sum*(sum+1)/2+b)
	}
	return codes, true
}
