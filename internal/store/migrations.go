package store

import (
	"fmt"
)

// migrate runs all pending migrations
func (s *Store) migrate() error {
	createMigrationsTableSQL := `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := s.db.Exec(createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	s.logger.Debug("Current schema version", "version", currentVersion)

	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE copy_runs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					job_id TEXT NOT NULL UNIQUE,
					source TEXT NOT NULL,
					dest TEXT NOT NULL,
					archive TEXT,
					use_archive BOOLEAN DEFAULT 0,
					start_time DATETIME NOT NULL,
					end_time DATETIME,
					processed INTEGER DEFAULT 0,
					copied INTEGER DEFAULT 0,
					skipped INTEGER DEFAULT 0,
					errors INTEGER DEFAULT 0,
					stopped BOOLEAN DEFAULT 0,
					status TEXT DEFAULT 'running',
					error_message TEXT
				);

				CREATE TABLE file_errors (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id INTEGER NOT NULL,
					source_path TEXT NOT NULL,
					error TEXT,
					occurred_at DATETIME NOT NULL,
					FOREIGN KEY(run_id) REFERENCES copy_runs(id)
				);

				CREATE INDEX idx_file_errors_run ON file_errors(run_id);
			`,
		},
		{
			version: 2,
			sql: `
				ALTER TABLE copy_runs ADD COLUMN device_kind TEXT DEFAULT '';
				ALTER TABLE copy_runs ADD COLUMN bytes_copied INTEGER DEFAULT 0;
			`,
		},
	}

	for _, mig := range migrations {
		if mig.version > currentVersion {
			s.logger.Info("Running migration", "version", mig.version)

			if err := s.runMigration(mig.version, mig.sql); err != nil {
				return fmt.Errorf("failed to run migration %d: %w", mig.version, err)
			}

			s.logger.Info("Migration completed", "version", mig.version)
		}
	}

	return nil
}

// runMigration executes a migration and records it
func (s *Store) runMigration(version int, sql string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	return nil
}
