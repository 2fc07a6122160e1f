// Package pipeline drives a batch of raw recordings through the spike sorting
// stages.
//
// A Driver discovers recordings under the input root, skips those whose bundle
// is already complete, and runs every other recording through the fixed stage
// sequence in stage.Order. Completion is decided by the filesystem alone: a
// bundle with phy/ or complete.txt is done. A failing recording is logged,
// recorded in the run history, and abandoned while the batch moves on. Context
// cancellation stops the batch after the current recording's scratch has been
// released.
//
// The external toolkit is reached through bridge.Toolkit so tests can swap in
// testsupport.FakeToolkit.
package pipeline
