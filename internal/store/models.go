package store

import "time"

// CopyRun records one copy job
type CopyRun struct {
	ID           int64
	JobID        string
	Source       string
	Dest         string
	Archive      string
	UseArchive   bool
	DeviceKind   string
	StartTime    time.Time
	EndTime      time.Time
	Processed    int
	Copied       int
	Skipped      int
	Errors       int
	BytesCopied  int64
	Stopped      bool
	Status       string // "running", "completed", "stopped", "failed"
	ErrorMessage string
}

// FileError is a per-file failure captured during a run
type FileError struct {
	ID         int64
	RunID      int64
	SourcePath string
	Error      string
	OccurredAt time.Time
}
