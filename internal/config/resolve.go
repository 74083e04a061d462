package config

import (
	"io/fs"
	"os"

	"github.com/pkg/errors"
)

// Source is a resolved configuration file, either on disk or inside the
// built-in configs directory.
type Source struct {
	Path    string
	builtin fs.FS
}

// Builtin reports whether the file comes from the built-in configs.
func (s Source) Builtin() bool { return s.builtin != nil }

// ReadFile returns the contents of the resolved file.
func (s Source) ReadFile() ([]byte, error) {
	if s.builtin != nil {
		return fs.ReadFile(s.builtin, s.Path)
	}
	return os.ReadFile(s.Path)
}

// Load decodes the resolved file over the defaults.
func (s Source) Load() (*Config, error) {
	data, err := s.ReadFile()
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", s.Path)
	}
	return LoadBytes(data)
}

// Resolve finds a configuration by name: a literal path if it exists,
// otherwise the name inside builtin, otherwise the name with ".yaml" appended.
func Resolve(name string, builtin fs.FS) (Source, error) {
	if fi, err := os.Stat(name); err == nil && !fi.IsDir() {
		return Source{Path: name}, nil
	}
	if builtin != nil {
		for _, candidate := range []string{name, name + ".yaml"} {
			if !fs.ValidPath(candidate) {
				continue
			}
			if fi, err := fs.Stat(builtin, candidate); err == nil && !fi.IsDir() {
				return Source{Path: candidate, builtin: builtin}, nil
			}
		}
	}
	return Source{}, errors.Wrapf(ErrConfigNotFound, "%q", name)
}
