package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ViktorIovenko/KopifilesNAS/internal/config"
	"github.com/ViktorIovenko/KopifilesNAS/internal/engine"
	"github.com/ViktorIovenko/KopifilesNAS/internal/media"
	"github.com/ViktorIovenko/KopifilesNAS/internal/store"
)

const defaultRunLimit = 20

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// handleRedirectStatus redirects / to the status endpoint.
func (s *Server) handleRedirectStatus(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/api/status", http.StatusFound)
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Flash      media.FlashInfo `json:"flash"`
	AutoDest   string          `json:"auto_dest"`
	Archive    string          `json:"archive,omitempty"`
	UseArchive bool            `json:"use_archive"`
	Formats    []string        `json:"formats"`
	Copy       engine.JobState `json:"copy"`
}

// handleAPIStatus reports the watched source volume, where it would be
// copied, and the copy job state.
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	info := s.classifier.Inspect(s.config.Watch.SourcePath)
	writeJSON(w, http.StatusOK, StatusResponse{
		Flash:      info,
		AutoDest:   s.config.DestinationFor(string(info.Kind)),
		Archive:    s.config.Archive.Path,
		UseArchive: s.config.Archive.Enabled,
		Formats:    s.config.Formats,
		Copy:       s.controller.Snapshot(),
	})
}

// handleAPICounts counts the candidate files under ?path (default: the
// watched source).
func (s *Server) handleAPICounts(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = s.config.Watch.SourcePath
	}
	job := config.JobConfig{Formats: s.config.Formats}
	if len(job.Formats) == 0 {
		job.Formats = config.DefaultFormats
	}
	counts, err := media.CountFiles(path, job.Allows)
	if err != nil {
		jsonError(w, http.StatusNotFound, "source not readable: "+path)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// StartRequestBody is the optional request body for POST /api/start. Empty
// fields fall back to the configuration.
type StartRequestBody struct {
	Source     string   `json:"source"`
	Dest       string   `json:"dest"`
	Archive    string   `json:"archive"`
	UseArchive *bool    `json:"use_archive"`
	Formats    []string `json:"formats"`
}

// handleAPIStart builds a job from the request and the configuration and
// hands it to the controller.
func (s *Server) handleAPIStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = s.config.Watch.SourcePath
	}
	job := s.config.JobDefaults(source, strings.TrimSpace(req.Dest))
	if req.Archive != "" {
		job.Archive = req.Archive
		job.UseArchive = true
	}
	if req.UseArchive != nil {
		job.UseArchive = *req.UseArchive
	}
	if formats := config.NormalizeFormats(req.Formats); len(formats) > 0 {
		job.Formats = formats
	}
	job = engine.PrepareJob(job, s.config, s.classifier)

	if err := job.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.controller.Start(job)
	if err != nil {
		if errors.Is(err, engine.ErrJobRunning) {
			jsonError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("failed to start copy job", "error", err)
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": id,
		"source": job.Source,
		"dest":   job.Dest,
		"kind":   job.Kind,
	})
}

// handleAPIStop asks the running job to stop.
func (s *Server) handleAPIStop(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Stop(); err != nil {
		if errors.Is(err, engine.ErrNoJobRunning) {
			jsonError(w, http.StatusConflict, err.Error())
			return
		}
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(engine.StatusStopping)})
}

// handleAPIEvents returns the event log, optionally only entries after ?after.
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	var after int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			jsonError(w, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = n
	}
	writeJSON(w, http.StatusOK, s.controller.EventsAfter(after))
}

// RunJSON is the JSON representation of a stored copy run.
type RunJSON struct {
	ID           int64     `json:"id"`
	JobID        string    `json:"job_id"`
	Source       string    `json:"source"`
	Dest         string    `json:"dest"`
	DeviceKind   string    `json:"device_kind,omitempty"`
	UseArchive   bool      `json:"use_archive"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Processed    int       `json:"processed"`
	Copied       int       `json:"copied"`
	Skipped      int       `json:"skipped"`
	Errors       int       `json:"errors"`
	BytesCopied  int64     `json:"bytes_copied"`
	Stopped      bool      `json:"stopped"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

func runToJSON(run store.CopyRun) RunJSON {
	return RunJSON{
		ID:           run.ID,
		JobID:        run.JobID,
		Source:       run.Source,
		Dest:         run.Dest,
		DeviceKind:   run.DeviceKind,
		UseArchive:   run.UseArchive,
		StartTime:    run.StartTime,
		EndTime:      run.EndTime,
		Processed:    run.Processed,
		Copied:       run.Copied,
		Skipped:      run.Skipped,
		Errors:       run.Errors,
		BytesCopied:  run.BytesCopied,
		Stopped:      run.Stopped,
		Status:       run.Status,
		ErrorMessage: run.ErrorMessage,
	}
}

// handleAPIRuns lists recent copy runs, newest first.
func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []RunJSON{})
		return
	}

	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			jsonError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.store.ListCopyRuns(limit)
	if err != nil {
		s.logger.Error("failed to list copy runs", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list copy runs")
		return
	}

	response := make([]RunJSON, 0, len(runs))
	for _, run := range runs {
		response = append(response, runToJSON(run))
	}
	writeJSON(w, http.StatusOK, response)
}

// FileErrorJSON is the JSON representation of a per-file failure.
type FileErrorJSON struct {
	SourcePath string    `json:"source_path"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurred_at"`
}

// handleAPIRunErrors lists the per-file failures of one run.
func (s *Server) handleAPIRunErrors(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, http.StatusNotFound, "run history is disabled")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	if _, err := s.store.GetCopyRun(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, http.StatusNotFound, "run not found")
			return
		}
		jsonError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	records, err := s.store.ListFileErrors(id)
	if err != nil {
		s.logger.Error("failed to list file errors", "run_id", id, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list file errors")
		return
	}
	response := make([]FileErrorJSON, 0, len(records))
	for _, rec := range records {
		response = append(response, FileErrorJSON{SourcePath: rec.SourcePath, Error: rec.Error, OccurredAt: rec.OccurredAt})
	}
	writeJSON(w, http.StatusOK, response)
}
