// Package services defines shared utilities consumed by the pipeline stages and
// the external toolkit bridge.
//
// Key responsibilities:
//   - Context helpers that stamp run identifiers, recording names, stage names,
//     and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so the batch driver can
//     classify failures with errors.Is instead of inspecting messages.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability) stays uniform across the pipeline.
package services
