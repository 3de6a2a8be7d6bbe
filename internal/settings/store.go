package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// Store reads and patches one settings file.
type Store struct {
	path   string
	logger *zerolog.Logger
	mu     sync.Mutex
}

// NewStore returns a Store for the file at path. The file is not touched
// until the first Write.
func NewStore(path string, logger *zerolog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Path is the settings file the store reads and writes.
func (s *Store) Path() string { return s.path }

// Read returns the current settings. A missing, empty or unreadable file
// yields Defaults; nothing is written.
func (s *Store) Read() Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("could not read settings, using defaults")
		return Defaults()
	}
	if len(bytes.TrimSpace(data)) == 0 {
		s.logger.Debug().Str("path", s.path).Msg("settings file missing or empty, using defaults")
		return Defaults()
	}
	return Parse(data, s.logger)
}

// Write applies p to the file. On a missing or empty file all three keys are
// written, with Defaults for fields p does not supply. Otherwise only the
// lines of supplied keys change. The file is replaced atomically.
func (s *Store) Write(p Patch) error {
	if p.Empty() {
		return nil
	}
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return fmt.Errorf("reading settings: %w", err)
	}

	var out []byte
	if len(bytes.TrimSpace(data)) == 0 {
		out = Render(p.Apply(Defaults()))
	} else {
		doc := parseDocument(data)
		for _, a := range p.assignments() {
			doc.set(a.key, a.value)
		}
		out = doc.bytes()
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating settings dir: %w", err)
	}
	if err := renameio.WriteFile(s.path, out, 0o644); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("settings write failed")
		return fmt.Errorf("writing settings: %w", err)
	}

	ev := s.logger.Info().Str("path", s.path)
	for _, a := range p.assignments() {
		ev = ev.Str(a.key, a.value)
	}
	ev.Msg("settings saved")
	return nil
}

// load returns the raw file contents; a missing file is reported as empty.
func (s *Store) load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}
