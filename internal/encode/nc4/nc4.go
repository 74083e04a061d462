// Package nc4 writes compressed NetCDF-4 files through the netCDF C library.
package nc4

import (
	"github.com/fhs/go-netcdf/netcdf"
	"github.com/pkg/errors"

	"github.com/ashkanshokri/ecmwf-downloader/internal/dataset"
)

// DefaultLevel is the zlib level used for data variables.
const DefaultLevel = 5

// Encoder writes NetCDF-4 with shuffle and deflate on every data variable.
type Encoder struct {
	Level int
}

func New(level int) Encoder {
	return Encoder{Level: level}
}

func (Encoder) Name() string { return "netcdf4" }

func (e Encoder) Encode(ds *dataset.Dataset, path string) (err error) {
	if err := ds.Validate(); err != nil {
		return err
	}
	nc, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	if err != nil {
		return errors.Wrap(err, "create netcdf4 file")
	}
	defer func() {
		if cerr := nc.Close(); err == nil && cerr != nil {
			err = errors.Wrap(cerr, "close netcdf4 file")
		}
	}()

	dims := map[string]netcdf.Dim{}
	for _, d := range ds.Dims {
		dim, err := nc.AddDim(d.Name, uint64(d.Len))
		if err != nil {
			return errors.Wrapf(err, "add dimension %s", d.Name)
		}
		dims[d.Name] = dim
	}

	type pending struct {
		v   netcdf.Var
		src *dataset.Variable
	}
	var writes []pending
	add := func(src *dataset.Variable, compress bool) error {
		var vdims []netcdf.Dim
		for _, name := range src.Dims {
			vdims = append(vdims, dims[name])
		}
		typ := netcdf.DOUBLE
		if src.Type == dataset.Float32 {
			typ = netcdf.FLOAT
		}
		v, err := nc.AddVar(src.Name, typ, vdims)
		if err != nil {
			return errors.Wrapf(err, "add variable %s", src.Name)
		}
		if compress && len(vdims) > 0 && e.Level > 0 {
			if err := v.SetCompression(true, true, e.Level); err != nil {
				return errors.Wrapf(err, "compress variable %s", src.Name)
			}
		}
		for _, a := range src.Attrs {
			if err := v.Attr(a.Name).WriteBytes([]byte(a.Value)); err != nil {
				return errors.Wrapf(err, "write attribute %s:%s", src.Name, a.Name)
			}
		}
		writes = append(writes, pending{v: v, src: src})
		return nil
	}
	for _, c := range ds.Coords {
		if err := add(c, false); err != nil {
			return err
		}
	}
	for _, v := range ds.Vars {
		if err := add(v, true); err != nil {
			return err
		}
	}
	for _, a := range ds.Attrs {
		if err := nc.Attr(a.Name).WriteBytes([]byte(a.Value)); err != nil {
			return errors.Wrapf(err, "write global attribute %s", a.Name)
		}
	}
	if err := nc.EndDef(); err != nil {
		return errors.Wrap(err, "end define mode")
	}

	for _, w := range writes {
		if w.src.Type == dataset.Float32 {
			data := make([]float32, len(w.src.Data))
			for i, x := range w.src.Data {
				data[i] = float32(x)
			}
			err = w.v.WriteFloat32s(data)
		} else {
			err = w.v.WriteFloat64s(w.src.Data)
		}
		if err != nil {
			return errors.Wrapf(err, "write variable %s", w.src.Name)
		}
	}
	return nil
}
