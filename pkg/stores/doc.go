// Package stores persists the reconciliation run history in a local SQLite
// database: every run, the per-resource outcomes inside it, and an
// append-only event log. The store implements control.RunRecorder so the
// reconciler can record its audit trail without knowing about SQL.
package stores
