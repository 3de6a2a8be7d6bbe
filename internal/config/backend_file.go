package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/renameio/v2"
)

// fileBackend keeps dotted keys in one flat JSON object. Numbers are decoded
// as json.Number so a fractional port is an error instead of being truncated.
type fileBackend struct {
	path string
	data map[string]any
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(FilePath())
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, data: make(map[string]any)}
	if err := b.load(); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] %v; using defaults\n", err)
	}
	return b
}

func (b *fileBackend) load() error {
	raw, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config %s: %w", b.path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	data := make(map[string]any)
	if err := dec.Decode(&data); err != nil {
		return fmt.Errorf("parsing config %s: %w", b.path, err)
	}
	b.data = data
	return nil
}

// save replaces the file atomically so a crash mid-write never leaves the
// panel with a truncated config.
func (b *fileBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	out, err := json.MarshalIndent(b.data, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(b.path, append(out, '\n'), 0o600)
}

func (b *fileBackend) Has(key string) bool {
	_, ok := b.data[key]
	return ok
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	switch v := b.data[key].(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	case json.Number:
		return v.String(), true, nil
	case bool:
		return strconv.FormatBool(v), true, nil
	default:
		return "", true, fmt.Errorf("%s must be a string, got %T", key, v)
	}
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	var (
		n   int64
		err error
	)
	switch v := b.data[key].(type) {
	case nil:
		return 0, false, nil
	case json.Number:
		n, err = v.Int64()
	case string:
		n, err = strconv.ParseInt(v, 10, 64)
	default:
		return 0, true, fmt.Errorf("%s must be an integer, got %T", key, v)
	}
	if err != nil {
		return 0, true, fmt.Errorf("%s is not an integer: %w", key, err)
	}
	if n < math.MinInt || n > math.MaxInt {
		return 0, true, fmt.Errorf("%s is out of range: %d", key, n)
	}
	return int(n), true, nil
}

func (b *fileBackend) SetString(key, val string) error {
	b.data[key] = val
	return b.save()
}

func (b *fileBackend) SetInt(key string, val int) error {
	b.data[key] = json.Number(strconv.Itoa(val))
	return b.save()
}

func (b *fileBackend) Delete(key string) error {
	if !b.Has(key) {
		return nil
	}
	delete(b.data, key)
	return b.save()
}
