package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// JobConfig is the immutable description of one copy job. It is built once
// per start and passed down; nothing mutates it afterwards.
type JobConfig struct {
	Source     string
	Dest       string
	Archive    string
	UseArchive bool
	Formats    []string
	Cooldown   time.Duration
	// Kind is the classified source device, when the caller knows it.
	Kind string
}

// Allows reports whether ext (with leading dot, any case) is in the allow-list.
func (j JobConfig) Allows(ext string) bool {
	return slices.Contains(j.Formats, strings.ToLower(ext))
}

// Validate reports the job-level problems that prevent a run from starting.
func (j JobConfig) Validate() error {
	if strings.TrimSpace(j.Source) == "" {
		return fmt.Errorf("source directory not set")
	}
	if strings.TrimSpace(j.Dest) == "" {
		return fmt.Errorf("destination directory not set")
	}
	return nil
}

var formatSeparators = regexp.MustCompile(`[,\s;]+`)

// ParseFormats splits a FORMATS value on commas, whitespace or semicolons and
// normalizes every entry to a lowercase extension with a leading dot.
func ParseFormats(raw string) []string {
	return NormalizeFormats(formatSeparators.Split(raw, -1))
}

// NormalizeFormats lowercases, dot-prefixes and deduplicates extensions.
func NormalizeFormats(in []string) []string {
	out := make([]string, 0, len(in))
	for _, f := range in {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if !strings.HasPrefix(f, ".") {
			f = "." + f
		}
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

// ParseBoolish treats "0" and "false" (any case) as false and anything else as
// true. An empty value yields def.
func ParseBoolish(raw string, def bool) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	return raw != "0" && !strings.EqualFold(raw, "false")
}

// ReadKeyValues parses a flat KEY=VALUE document. Blank lines and lines
// starting with # are ignored, keys are upper-cased, values trimmed.
func ReadKeyValues(r io.Reader) (map[string]string, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[strings.ToUpper(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading key/value config: %w", err)
	}
	return values, nil
}

// ParseJobConfig builds a JobConfig from parsed key/values. Keys that are
// absent keep the value from base.
func ParseJobConfig(values map[string]string, base JobConfig) (JobConfig, error) {
	job := base
	job.Formats = slices.Clone(base.Formats)

	if v, ok := values["SRC"]; ok {
		job.Source = v
	}
	if v, ok := values["DST"]; ok {
		job.Dest = v
	}
	if v, ok := values["ARCHIVE"]; ok {
		job.Archive = v
	}
	if v, ok := values["USE_ARCHIVE"]; ok {
		job.UseArchive = ParseBoolish(v, base.UseArchive)
	}
	if v, ok := values["FORMATS"]; ok {
		if formats := ParseFormats(v); len(formats) > 0 {
			job.Formats = formats
		}
	}
	if v, ok := values["COOLDOWN_SEC"]; ok && v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 0 {
			return JobConfig{}, fmt.Errorf("invalid COOLDOWN_SEC %q", v)
		}
		job.Cooldown = time.Duration(secs) * time.Second
	}
	if len(job.Formats) == 0 {
		job.Formats = slices.Clone(DefaultFormats)
	}
	return job, nil
}

// ReadJobFile loads a key/value job file on top of base.
func ReadJobFile(path string, base JobConfig) (JobConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return JobConfig{}, fmt.Errorf("opening job file: %w", err)
	}
	defer f.Close()

	values, err := ReadKeyValues(f)
	if err != nil {
		return JobConfig{}, err
	}
	return ParseJobConfig(values, base)
}
