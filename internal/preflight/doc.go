// Package preflight provides readiness checks for the filesystem paths and
// external binaries a batch run depends on.
//
// The CLI "spikeflow check" command renders these results, and "spikeflow run"
// refuses to start when a required check fails so a batch does not discover a
// missing interpreter or unwritable output root after the first recording.
package preflight
