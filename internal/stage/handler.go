// Package stage defines the contract shared by the per-recording processing
// stages and the job state they pass along.
package stage

import (
	"context"
	"time"

	"spikeflow/internal/bundle"
	"spikeflow/internal/probe"
	"spikeflow/internal/recording"
	"spikeflow/internal/staging"
	"spikeflow/internal/units"
)

// Handler describes the contract the pipeline needs from each stage.
type Handler interface {
	Name() string
	Execute(context.Context, *Job) error
}

// Job carries one recording through the stage sequence. Stages read the
// fields earlier stages filled in and add their own.
type Job struct {
	RunID     string
	Recording recording.Ref
	Layout    bundle.Layout
	Scratch   *staging.Scratch
	Probe     *probe.Geometry
	// Device is "cuda" or "cpu".
	Device string

	StartedAt time.Time
	Units     *units.Summary
	Timings   []bundle.StageTiming
	// Channels is the channel count of the preprocessed recording.
	Channels int
}

// Scratch-relative locations shared by stages.
const (
	ScratchRecording = "recording"
	ScratchSorterRun = "sorter_output"
	ScratchSorting   = "sorting"
	ScratchPhy       = "phy"
)

// RecordingDir is the preprocessed recording saved in scratch.
func (j *Job) RecordingDir() string {
	return j.Scratch.Join(ScratchRecording)
}

// SortingDir is where the sort action saves the sorted result before it is
// persisted into the bundle.
func (j *Job) SortingDir() string {
	return j.Scratch.Join(ScratchSorting)
}

// ExportDir is where the Phy export is built and checked before it is
// published into the bundle.
func (j *Job) ExportDir() string {
	return j.Scratch.Join(ScratchPhy)
}

// SorterWorkDir is where the sorter keeps its working files.
func (j *Job) SorterWorkDir() string {
	return j.Scratch.Join(ScratchSorterRun)
}
