// Package control implements the Cloudburst control plane: the types and
// logic that take a declared set of serverless compute resources plus the
// previously persisted state for an environment and decide what must be
// deployed, redeployed, reused, or torn down.
//
// The package contains three cooperating pieces:
//
//   - Manager deduplicates concurrent deploy requests per resource identity
//     and tracks deployed resources in a local persisted store.
//   - Reconciler diffs a declared manifest against the persisted manifest
//     into NEW/CHANGED/UNCHANGED/REMOVED actions and drives provisioning
//     through the Manager and a remote ManifestStore.
//   - The error types classify failures so callers can distinguish expected
//     fail-fast signals (an open circuit) from real faults.
//
// Runtime call routing lives in pkg/routing, endpoint invocation in
// pkg/invoke, and the per-endpoint circuit breaker in pkg/breaker.
package control
