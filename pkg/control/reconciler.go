package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultReconcileTimeout bounds the whole concurrent provisioning step.
const DefaultReconcileTimeout = 600 * time.Second

// Reconciler diffs a declared manifest against the persisted manifest for an
// environment and drives (re)provisioning through the Manager and the remote
// ManifestStore.
type Reconciler struct {
	manager   *Manager
	store     ManifestStore
	local     ManifestWriter
	recorder  RunRecorder
	deployObs DeployObserver
	timeout   time.Duration
	log       zerolog.Logger
}

// DeployObserver receives the outcome of one provisioning attempt, typically
// a metrics collector.
type DeployObserver func(resourceType, status string, elapsed time.Duration)

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcileTimeout overrides the overall provisioning deadline.
func WithReconcileTimeout(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.timeout = d }
}

// WithLocalManifestWriter emits the local manifest file with resolved URLs
// after a successful reconciliation.
func WithLocalManifestWriter(w ManifestWriter) ReconcilerOption {
	return func(r *Reconciler) { r.local = w }
}

// WithRunRecorder records reconciliation runs to a history store.
func WithRunRecorder(rec RunRecorder) ReconcilerOption {
	return func(r *Reconciler) { r.recorder = rec }
}

// WithDeployObserver reports every provisioning attempt with its duration.
func WithDeployObserver(obs DeployObserver) ReconcilerOption {
	return func(r *Reconciler) { r.deployObs = obs }
}

// WithReconcilerLogger sets the reconciler's logger.
func WithReconcilerLogger(log zerolog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.log = log }
}

// NewReconciler creates a Reconciler.
func NewReconciler(manager *Manager, store ManifestStore, opts ...ReconcilerOption) (*Reconciler, error) {
	if manager == nil {
		return nil, NewValidationError("resource manager is required", nil)
	}
	if store == nil {
		return nil, NewValidationError("manifest store is required", nil)
	}

	r := &Reconciler{
		manager: manager,
		store:   store,
		timeout: DefaultReconcileTimeout,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Classify computes the reconcile action for every declared resource name,
// plus the names present only in the persisted manifest (REMOVED candidates,
// acted on in the self-provisioning flow only).
func Classify(declared, persisted *Manifest) (actions map[string]ReconcileAction, removed []string) {
	actions = make(map[string]ReconcileAction, len(declared.Resources))

	for name, spec := range declared.Resources {
		if persisted == nil || persisted.Resources == nil {
			actions[name] = ActionNew
			continue
		}
		prev, ok := persisted.Resources[name]
		if !ok {
			actions[name] = ActionNew
			continue
		}
		if prev.ConfigHash() != spec.ConfigHash() {
			actions[name] = ActionChanged
			continue
		}
		// Equal hashes with no recorded endpoint mean an earlier deployment
		// updated state but never recorded where it landed. Redeploying
		// repairs the drift.
		if persisted.Endpoint(name) == "" {
			actions[name] = ActionChanged
			continue
		}
		actions[name] = ActionUnchanged
	}

	if persisted != nil {
		for name := range persisted.Resources {
			if _, ok := declared.Resources[name]; !ok {
				removed = append(removed, name)
			}
		}
	}
	return actions, removed
}

// Reconcile brings the environment in line with the declared manifest.
// resources supplies the deploy capability for each declared name. The
// returned map carries the resolved endpoint URL per resource name.
//
// Under FlowOperator any single provisioning failure aborts the whole
// reconciliation; under FlowSelfProvision failures are recorded per resource
// in the remote store and siblings proceed. A declared mothership resource
// that fails to provision is fatal in either flow.
func (r *Reconciler) Reconcile(
	ctx context.Context,
	envID string,
	declared *Manifest,
	resources map[string]DeployableResource,
	flow Flow,
) (map[string]string, error) {
	if declared == nil {
		return nil, NewValidationError("declared manifest is required", nil)
	}

	persisted, err := r.store.GetPersistedManifest(ctx, envID)
	switch {
	case err == nil:
	case IsManifestMissing(err):
		// First run for this environment: nothing persisted yet.
		r.log.Info().Str("environment", envID).Msg("no persisted manifest, treating all resources as new")
		persisted = nil
	default:
		// An unreachable store is not an empty one. Classifying against
		// unknown state would redeploy everything and overwrite the
		// persisted manifest once the store recovers.
		return nil, err
	}

	actions, removed := Classify(declared, persisted)

	runID := r.startRun(ctx, envID, flow)

	endpoints, failures, err := r.provision(ctx, envID, runID, declared, persisted, resources, actions, flow)
	if err != nil {
		r.finishRun(ctx, runID, err)
		return nil, err
	}

	if flow == FlowSelfProvision {
		r.removeVanished(ctx, envID, runID, persisted, removed)
	}

	updated := r.buildUpdatedManifest(declared, endpoints, failures)
	if err := r.store.PutManifest(ctx, envID, updated); err != nil {
		r.finishRun(ctx, runID, err)
		return nil, err
	}

	if r.local != nil {
		if err := r.local.WriteManifest(updated); err != nil {
			r.finishRun(ctx, runID, err)
			return nil, fmt.Errorf("failed to write local manifest: %w", err)
		}
	}

	r.finishRun(ctx, runID, nil)
	r.log.Info().
		Str("environment", envID).
		Int("resources", len(endpoints)).
		Msg("reconciliation complete")
	return endpoints, nil
}

// provision runs the NEW/CHANGED deploys concurrently under the overall
// deadline, collecting resolved endpoints for every declared resource and,
// in the tolerant flow, the error text of every failed one.
func (r *Reconciler) provision(
	ctx context.Context,
	envID, runID string,
	declared, persisted *Manifest,
	resources map[string]DeployableResource,
	actions map[string]ReconcileAction,
	flow Flow,
) (map[string]string, map[string]string, error) {
	var (
		mu        sync.Mutex
		endpoints = make(map[string]string, len(actions))
		failures  = make(map[string]string)
	)

	deadline, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// UNCHANGED resources reuse the persisted URL verbatim, zero deploys.
	for name, action := range actions {
		if action == ActionUnchanged {
			endpoints[name] = persisted.Endpoint(name)
			r.recordResource(ctx, runID, declared.Resources[name], action, endpoints[name], nil)
		}
	}

	switch flow {
	case FlowSelfProvision:
		if err := r.provisionTolerant(deadline, envID, runID, declared, resources, actions, &mu, endpoints, failures); err != nil {
			return nil, nil, err
		}
	default:
		if err := r.provisionFailFast(deadline, runID, declared, resources, actions, &mu, endpoints); err != nil {
			return nil, nil, err
		}
	}

	return endpoints, failures, nil
}

// provisionFailFast deploys NEW/CHANGED resources concurrently and aborts
// the whole reconciliation on the first failure.
func (r *Reconciler) provisionFailFast(
	ctx context.Context,
	runID string,
	declared *Manifest,
	resources map[string]DeployableResource,
	actions map[string]ReconcileAction,
	mu *sync.Mutex,
	endpoints map[string]string,
) error {
	for name, action := range actions {
		if action != ActionNew && action != ActionChanged {
			continue
		}
		if _, ok := resources[name]; !ok {
			return NewValidationError(
				fmt.Sprintf("no deployable capability supplied for resource %q", name), nil)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	for name, action := range actions {
		if action != ActionNew && action != ActionChanged {
			continue
		}
		res := resources[name]
		spec := declared.Resources[name]
		name, action := name, action
		g.Go(func() error {
			start := time.Now()
			deployed, err := r.manager.GetOrDeployResource(gctx, res)
			r.observeDeploy(spec, start, err)
			r.recordResource(gctx, runID, spec, action, urlOf(deployed), err)
			if err != nil {
				return err
			}
			mu.Lock()
			endpoints[name] = deployed.EndpointURL
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return NewReconcileTimeoutError(r.timeout, err)
		}
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewReconcileTimeoutError(r.timeout, ctx.Err())
	}
	return nil
}

// provisionTolerant deploys NEW/CHANGED resources concurrently, records each
// failure against the resource's remote state entry and in failures, and
// lets siblings finish. Successful deploys record their endpoint in the
// remote store immediately so a later fatal failure cannot lose them. Only a
// mothership failure or the overall deadline is fatal.
func (r *Reconciler) provisionTolerant(
	ctx context.Context,
	envID, runID string,
	declared *Manifest,
	resources map[string]DeployableResource,
	actions map[string]ReconcileAction,
	mu *sync.Mutex,
	endpoints map[string]string,
	failures map[string]string,
) error {
	var (
		wg            sync.WaitGroup
		mothershipErr error
		errMu         sync.Mutex
	)

	recordFailure := func(name string, spec *ResourceSpec, err error) {
		r.log.Error().Err(err).Str("resource", name).Msg("resource provisioning failed")
		errMu.Lock()
		failures[name] = err.Error()
		if spec != nil && spec.IsMothership && mothershipErr == nil {
			mothershipErr = err
		}
		errMu.Unlock()
		if updErr := r.store.UpdateResourceState(ctx, envID, name, map[string]interface{}{
			"last_error": err.Error(),
		}); updErr != nil {
			r.log.Error().Err(updErr).Str("resource", name).Msg("failed to record provisioning error")
		}
	}

	for name, action := range actions {
		if action != ActionNew && action != ActionChanged {
			continue
		}
		spec := declared.Resources[name]
		res, ok := resources[name]
		if !ok {
			err := NewValidationError(
				fmt.Sprintf("no deployable capability supplied for resource %q", name), nil)
			r.recordResource(ctx, runID, spec, action, "", err)
			recordFailure(name, spec, err)
			continue
		}
		name, action := name, action
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			deployed, err := r.manager.GetOrDeployResource(ctx, res)
			r.observeDeploy(spec, start, err)
			r.recordResource(ctx, runID, spec, action, urlOf(deployed), err)
			if err != nil {
				recordFailure(name, spec, err)
				return
			}
			mu.Lock()
			endpoints[name] = deployed.EndpointURL
			mu.Unlock()
			if updErr := r.store.UpdateResourceState(ctx, envID, name, map[string]interface{}{
				"endpoint_url": deployed.EndpointURL,
			}); updErr != nil {
				r.log.Warn().Err(updErr).Str("resource", name).Msg("failed to record resource endpoint")
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		<-done
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return NewReconcileTimeoutError(r.timeout, ctx.Err())
		}
		return ctx.Err()
	}

	if mothershipErr != nil {
		return mothershipErr
	}
	return nil
}

// removeVanished undeploys resources that are persisted but no longer
// declared and deletes their persisted entries.
func (r *Reconciler) removeVanished(ctx context.Context, envID, runID string, persisted *Manifest, removed []string) {
	for _, name := range removed {
		spec := persisted.Resources[name]
		resourceID := spec.ResourceID()

		result, err := r.manager.UndeployResource(ctx, resourceID, name, true)
		r.recordResource(ctx, runID, spec, ActionRemoved, "", err)
		if err != nil {
			r.log.Error().Err(err).Str("resource", name).Msg("failed to undeploy removed resource")
			continue
		}
		if err := r.store.RemoveResourceState(ctx, envID, name); err != nil {
			r.log.Error().Err(err).Str("resource", name).Msg("failed to remove persisted resource state")
			continue
		}
		r.log.Info().Str("resource", name).Str("outcome", result.Message).Msg("removed vanished resource")
	}
}

// buildUpdatedManifest assembles the manifest written back to the remote
// store in one mutation: declared specs with their config hashes plus every
// resolved endpoint. Resources that failed this run carry their error text,
// so the final write never erases the error entries recorded during
// provisioning.
func (r *Reconciler) buildUpdatedManifest(declared *Manifest, endpoints, failures map[string]string) *Manifest {
	updated := NewManifest(declared.Version)
	for name, spec := range declared.Resources {
		persistedSpec := spec.Clone()
		persistedSpec.Hash = spec.ConfigHash()
		persistedSpec.LastError = failures[name]
		updated.Resources[name] = persistedSpec
	}
	for name, url := range endpoints {
		updated.ResourceEndpoints[name] = url
	}
	return updated
}

func (r *Reconciler) observeDeploy(spec *ResourceSpec, start time.Time, err error) {
	if r.deployObs == nil || spec == nil {
		return
	}
	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	r.deployObs(spec.Type, status, time.Since(start))
}

func (r *Reconciler) startRun(ctx context.Context, envID string, flow Flow) string {
	if r.recorder == nil {
		return ""
	}
	runID, err := r.recorder.StartRun(ctx, envID, flow)
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to open run history record")
		return ""
	}
	return runID
}

func (r *Reconciler) finishRun(ctx context.Context, runID string, runErr error) {
	if r.recorder == nil || runID == "" {
		return
	}
	if err := r.recorder.FinishRun(ctx, runID, runErr); err != nil {
		r.log.Warn().Err(err).Msg("failed to close run history record")
	}
}

func (r *Reconciler) recordResource(ctx context.Context, runID string, spec *ResourceSpec,
	action ReconcileAction, endpointURL string, resErr error) {
	if r.recorder == nil || runID == "" || spec == nil {
		return
	}
	if err := r.recorder.RecordResource(ctx, runID, spec.Name, spec.Type, action, endpointURL, resErr); err != nil {
		r.log.Warn().Err(err).Str("resource", spec.Name).Msg("failed to record resource outcome")
	}
}

func urlOf(dep *DeployedResource) string {
	if dep == nil {
		return ""
	}
	return dep.EndpointURL
}
