// Package bundle owns the on-disk layout of one recording's outputs.
//
// A bundle lives at <output_root>/proc/<name>/ and is the only place job state
// is kept: the presence of phy/ or complete.txt means the recording is done and
// will be skipped on the next run. Everything else (ledger rows, logs) is
// advisory.
//
// The package also applies the post-export fixups: rewriting the first line of
// the viewer's params.py, and writing the manifest and completion marker.
package bundle
