// Package ledger persists batch run history in SQLite.
//
// The ledger is advisory: it answers "what happened last night" for the
// history command and never decides whether a recording is processed. That
// decision belongs to the bundle marker on disk. Callers treat an Open failure
// as a warning and continue without history.
package ledger
