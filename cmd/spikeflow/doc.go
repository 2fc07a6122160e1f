// Package main hosts the spikeflow CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration, overlays run flags on top of
// it, and hands the result to the pipeline driver. Besides "run" it offers
// dependency checks, run history from the ledger, and configuration
// scaffolding.
//
// Keep this package lean: new behavior belongs in the internal packages and is
// surfaced here through commands or flags.
package main
