package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store provides SQLite-backed persistence of copy history
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite has a single writer and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("Store initialized successfully", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// CopyRun Operations
// ============================================================================

const copyRunColumns = `
	id, job_id, source, dest, archive, use_archive, device_kind, start_time, end_time,
	processed, copied, skipped, errors, bytes_copied, stopped, status, error_message
`

// CreateCopyRun inserts a new CopyRun and sets its ID
func (s *Store) CreateCopyRun(run *CopyRun) error {
	const query = `
		INSERT INTO copy_runs (
			job_id, source, dest, archive, use_archive, device_kind, start_time, end_time,
			processed, copied, skipped, errors, bytes_copied, stopped, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		run.JobID, run.Source, run.Dest, run.Archive, run.UseArchive, run.DeviceKind,
		run.StartTime, run.EndTime, run.Processed, run.Copied, run.Skipped, run.Errors,
		run.BytesCopied, run.Stopped, run.Status, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert copy run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	run.ID = id
	return nil
}

// UpdateCopyRun updates the outcome columns of an existing CopyRun by ID
func (s *Store) UpdateCopyRun(run *CopyRun) error {
	const query = `
		UPDATE copy_runs SET
			end_time = ?, processed = ?, copied = ?, skipped = ?, errors = ?,
			bytes_copied = ?, stopped = ?, status = ?, error_message = ?, device_kind = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(
		query,
		run.EndTime, run.Processed, run.Copied, run.Skipped, run.Errors,
		run.BytesCopied, run.Stopped, run.Status, run.ErrorMessage, run.DeviceKind, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update copy run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("copy run %d: %w", run.ID, ErrNotFound)
	}

	return nil
}

// GetCopyRun retrieves a CopyRun by ID
func (s *Store) GetCopyRun(id int64) (*CopyRun, error) {
	return s.getCopyRun("SELECT "+copyRunColumns+" FROM copy_runs WHERE id = ?", id)
}

// GetCopyRunByJobID retrieves a CopyRun by its job identifier
func (s *Store) GetCopyRunByJobID(jobID string) (*CopyRun, error) {
	return s.getCopyRun("SELECT "+copyRunColumns+" FROM copy_runs WHERE job_id = ?", jobID)
}

func (s *Store) getCopyRun(query string, arg any) (*CopyRun, error) {
	run, err := scanCopyRun(s.db.QueryRow(query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("copy run %v: %w", arg, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query copy run: %w", err)
	}
	return run, nil
}

// ListCopyRuns retrieves the most recent CopyRuns, newest first
func (s *Store) ListCopyRuns(limit int) ([]CopyRun, error) {
	query := "SELECT " + copyRunColumns + " FROM copy_runs ORDER BY start_time DESC, id DESC"
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query copy runs: %w", err)
	}
	defer rows.Close()

	var runs []CopyRun
	for rows.Next() {
		run, err := scanCopyRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan copy run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating copy runs: %w", err)
	}

	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCopyRun(row rowScanner) (*CopyRun, error) {
	run := &CopyRun{}
	var archive, kind, errMsg sql.NullString
	err := row.Scan(
		&run.ID, &run.JobID, &run.Source, &run.Dest, &archive, &run.UseArchive, &kind,
		&run.StartTime, &run.EndTime, &run.Processed, &run.Copied, &run.Skipped,
		&run.Errors, &run.BytesCopied, &run.Stopped, &run.Status, &errMsg,
	)
	if err != nil {
		return nil, err
	}
	run.Archive = archive.String
	run.DeviceKind = kind.String
	run.ErrorMessage = errMsg.String
	return run, nil
}

// ============================================================================
// FileError Operations
// ============================================================================

// AddFileError records a per-file failure for a run
func (s *Store) AddFileError(rec *FileError) error {
	const query = `
		INSERT INTO file_errors (run_id, source_path, error, occurred_at)
		VALUES (?, ?, ?, ?)
	`

	result, err := s.db.Exec(query, rec.RunID, rec.SourcePath, rec.Error, rec.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to add file error: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	rec.ID = id
	return nil
}

// ListFileErrors retrieves the failures recorded for a run, oldest first
func (s *Store) ListFileErrors(runID int64) ([]FileError, error) {
	const query = `
		SELECT id, run_id, source_path, error, occurred_at
		FROM file_errors WHERE run_id = ? ORDER BY occurred_at ASC, id ASC
	`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query file errors: %w", err)
	}
	defer rows.Close()

	var records []FileError
	for rows.Next() {
		rec := FileError{}
		var msg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.SourcePath, &msg, &rec.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan file error: %w", err)
		}
		rec.Error = msg.String
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file errors: %w", err)
	}

	return records, nil
}
