package preflight

import (
	"spikeflow/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the path checks for the given config.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryReadable("Input directory", cfg.Paths.InputDir))
	results = append(results, CheckWritableTarget("Output directory", cfg.Paths.OutputDir))

	probePath, err := cfg.ResolveProbeFile()
	if err != nil {
		results = append(results, Result{Name: "Probe file", Detail: err.Error()})
	} else {
		results = append(results, CheckFileReadable("Probe file", probePath))
	}

	if cfg.Paths.StateDir != "" {
		results = append(results, CheckWritableTarget("State directory", cfg.Paths.StateDir))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
