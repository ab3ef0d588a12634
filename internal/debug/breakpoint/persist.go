package breakpoint

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/dshills/scriptdbg/internal/source"
)

// persistVersion is the current breakpoint file format version.
const persistVersion = 1

// PathMapper converts between unit ids and the file paths that are stored
// on disk. *source.Registry implements it.
type PathMapper interface {
	Path(id source.UnitID) string
	ID(path string) source.UnitID
}

// persistedBreakpoints is the format for persisted breakpoints.
type persistedBreakpoints struct {
	Version int             `yaml:"version"`
	Files   []persistedFile `yaml:"files"`
}

type persistedFile struct {
	Path  string `yaml:"path"`
	Lines []int  `yaml:"lines,flow"`
}

// Encode writes the breakpoints as YAML. Units without a path are skipped.
func (s *Store) Encode(w io.Writer, paths PathMapper) error {
	doc := persistedBreakpoints{Version: persistVersion}
	for _, unit := range s.Units() {
		path := paths.Path(unit)
		if path == "" {
			continue
		}
		doc.Files = append(doc.Files, persistedFile{Path: path, Lines: s.Lines(unit)})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode breakpoints: %w", err)
	}
	return enc.Close()
}

// Decode replaces the store content with breakpoints read from r.
func (s *Store) Decode(r io.Reader, paths PathMapper) error {
	var doc persistedBreakpoints
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			s.ClearAll()
			return nil
		}
		return fmt.Errorf("decode breakpoints: %w", err)
	}
	if doc.Version > persistVersion {
		return fmt.Errorf("%w: version %d", ErrUnsupportedVersion, doc.Version)
	}

	s.ClearAll()
	for _, f := range doc.Files {
		unit := paths.ID(f.Path)
		for _, line := range f.Lines {
			s.Set(unit, line)
		}
	}
	return nil
}

// Save persists the breakpoints to a file, creating its directory.
func (s *Store) Save(path string, paths PathMapper) error {
	if path == "" {
		return ErrNoPersistPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if err := s.Encode(f, paths); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads persisted breakpoints. A missing file leaves the store empty.
func (s *Store) Load(path string, paths PathMapper) error {
	if path == "" {
		return ErrNoPersistPath
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	return s.Decode(f, paths)
}
