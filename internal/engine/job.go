package engine

import (
	"github.com/ViktorIovenko/KopifilesNAS/internal/config"
	"github.com/ViktorIovenko/KopifilesNAS/internal/media"
)

// PrepareJob fills in what a job file may leave out: the device kind of the
// source and, when DST is absent, the destination configured for that kind.
func PrepareJob(job config.JobConfig, cfg *config.Config, classifier *media.Classifier) config.JobConfig {
	if job.Kind == "" && classifier != nil && job.Source != "" {
		if info := classifier.Inspect(job.Source); info.Present {
			job.Kind = string(info.Kind)
		}
	}
	if job.Dest == "" && cfg != nil {
		job.Dest = cfg.DestinationFor(job.Kind)
	}
	return job
}
