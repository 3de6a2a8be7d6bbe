// Package history keeps a SQLite record of update runs and their output.
package history

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps a SQLite database of update runs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) history.db in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "history.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single connection also keeps an in-memory database alive across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies embedded migrations that are not yet recorded in
// schema_version, in filename order.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Runs ---

// BeginRun records a new run in the running state.
func (s *Store) BeginRun(id string, startedAt time.Time) error {
	_, err := s.db.Exec(`INSERT INTO update_runs (id, started_at, status) VALUES (?, ?, ?)`,
		id, startedAt.UTC().Format(timeLayout), StatusRunning,
	)
	return err
}

// AppendLine stores one output line and bumps the run's line count.
func (s *Store) AppendLine(runID string, seq int, text string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning append transaction: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO update_lines (run_id, seq, text) VALUES (?, ?, ?)`, runID, seq, text); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(`UPDATE update_runs SET line_count = line_count + 1 WHERE id = ?`, runID); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// FinishRun marks a run finished. A zero exit code with no error text is
// completed; anything else is failed.
func (s *Store) FinishRun(id string, exitCode int, errText string, finishedAt time.Time) error {
	status := StatusCompleted
	if exitCode != 0 || errText != "" {
		status = StatusFailed
	}
	res, err := s.db.Exec(`
		UPDATE update_runs SET status = ?, exit_code = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		status, exitCode, errText, finishedAt.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `id, started_at, finished_at, status, exit_code, line_count, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(sc rowScanner) (Run, error) {
	var r Run
	var startedAt string
	var finishedAt sql.NullString
	var exitCode sql.NullInt64
	if err := sc.Scan(&r.ID, &startedAt, &finishedAt, &r.Status, &exitCode, &r.LineCount, &r.Error); err != nil {
		return Run{}, err
	}
	t, err := time.Parse(timeLayout, startedAt)
	if err != nil {
		return Run{}, fmt.Errorf("parsing started_at: %w", err)
	}
	r.StartedAt = t
	if finishedAt.Valid {
		ft, err := time.Parse(timeLayout, finishedAt.String)
		if err != nil {
			return Run{}, fmt.Errorf("parsing finished_at: %w", err)
		}
		r.FinishedAt = &ft
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		r.ExitCode = &code
	}
	return r, nil
}

func (s *Store) GetRun(id string) (Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM update_runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Run{}, ErrNotFound
	}
	return r, err
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM update_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Lines returns a run's output in order. An unknown run is ErrNotFound.
func (s *Store) Lines(runID string) ([]Line, error) {
	if _, err := s.GetRun(runID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT run_id, seq, text FROM update_lines WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.RunID, &l.Seq, &l.Text); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// MarkInterrupted fails runs left in the running state by a process that
// exited before finishing them.
func (s *Store) MarkInterrupted(finishedAt time.Time) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE update_runs SET status = ?, error = 'interrupted', finished_at = ?
		WHERE status = ?`,
		StatusFailed, finishedAt.UTC().Format(timeLayout), StatusRunning,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
