// Package bridge runs the external electrophysiology toolkit as a subprocess.
//
// A small Python script is embedded in the binary and installed next to the
// state directory on first use. Each call launches `<python> bridge.py
// <action>`, writes a JSON request to stdin, and reads newline-delimited JSON
// events from stdout: progress, log, a single result, or an error carrying a
// stable kind. Error kinds are translated into the services markers so callers
// classify failures with errors.Is.
//
// The Toolkit interface is what the pipeline depends on; tests substitute a
// fake or swap the command constructor with WithCommand.
package bridge
