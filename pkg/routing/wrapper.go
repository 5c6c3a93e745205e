package routing

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudburst-io/cloudburst/pkg/breaker"
	"github.com/cloudburst-io/cloudburst/pkg/control"
	"github.com/cloudburst-io/cloudburst/pkg/invoke/protocol"
	"github.com/cloudburst-io/cloudburst/pkg/telemetry"
)

// Invoker executes a call envelope against a resolved endpoint URL.
// pkg/invoke.Client implements it.
type Invoker interface {
	Call(ctx context.Context, url string, env *protocol.CallEnvelope) (*protocol.CallResult, error)
}

// LocalFunc is the original in-process implementation of a wrapped function.
type LocalFunc func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error)

// Wrapper routes each wrapped call: local calls are delegated to the
// original function unchanged, remote calls are encoded into a call
// envelope and executed through the endpoint's circuit breaker.
type Wrapper struct {
	registry *ServiceRegistry
	breakers *breaker.Registry
	invoker  Invoker
	codec    protocol.Codec
	metrics  *telemetry.Metrics
	log      zerolog.Logger
}

// WrapperOption configures a Wrapper.
type WrapperOption func(*Wrapper)

// WithWrapperLogger sets the wrapper's logger.
func WithWrapperLogger(log zerolog.Logger) WrapperOption {
	return func(w *Wrapper) { w.log = log }
}

// WithCodec overrides the payload codec.
func WithCodec(codec protocol.Codec) WrapperOption {
	return func(w *Wrapper) { w.codec = codec }
}

// WithWrapperMetrics records remote invocations and open-circuit shorts.
func WithWrapperMetrics(m *telemetry.Metrics) WrapperOption {
	return func(w *Wrapper) { w.metrics = m }
}

// NewBreakerRegistry builds the per-endpoint breaker registry a wrapper
// shares with its siblings, exporting state transitions through the metrics
// collector when one is supplied.
func NewBreakerRegistry(settings breaker.Settings, m *telemetry.Metrics, opts ...breaker.BreakerOption) *breaker.Registry {
	if m != nil {
		opts = append(opts, breaker.WithTransitionHook(func(url string, from, to breaker.State) {
			m.RecordBreakerTransition(url, string(from), string(to))
		}))
	}
	return breaker.NewRegistry(settings, opts...)
}

// NewWrapper creates a production call wrapper.
func NewWrapper(registry *ServiceRegistry, breakers *breaker.Registry, invoker Invoker, opts ...WrapperOption) (*Wrapper, error) {
	if registry == nil {
		return nil, control.NewValidationError("service registry is required", nil)
	}
	if breakers == nil {
		return nil, control.NewValidationError("breaker registry is required", nil)
	}
	if invoker == nil {
		return nil, control.NewValidationError("invoker is required", nil)
	}

	w := &Wrapper{
		registry: registry,
		breakers: breakers,
		invoker:  invoker,
		codec:    protocol.JSONCodec{},
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Call routes one function call. Local routing delegates to the original
// function with zero overhead; remote routing runs the encoded envelope
// through the endpoint's circuit breaker and unwraps the result envelope,
// surfacing the remote error text on failure.
func (w *Wrapper) Call(ctx context.Context, fnName string, local LocalFunc,
	args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	return w.call(ctx, fnName, protocol.ExecutionTypeFunction, local, args, kwargs)
}

// CallMethod is the symmetric path for class-based targets.
func (w *Wrapper) CallMethod(ctx context.Context, fnName string, local LocalFunc,
	args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	return w.call(ctx, fnName, protocol.ExecutionTypeClass, local, args, kwargs)
}

func (w *Wrapper) call(ctx context.Context, fnName string, execType protocol.ExecutionType,
	local LocalFunc, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {

	if w.registry.IsLocalFunction(fnName) {
		return local(ctx, args, kwargs)
	}

	url, err := w.registry.EndpointForFunction(ctx, fnName)
	if err != nil {
		return nil, err
	}
	if url == "" {
		return local(ctx, args, kwargs)
	}

	env, err := w.buildEnvelope(fnName, execType, args, kwargs)
	if err != nil {
		return nil, err
	}

	w.log.Debug().Str("function", fnName).Str("endpoint", url).Msg("routing call to remote endpoint")

	var result *protocol.CallResult
	b := w.breakers.Get(url)
	start := time.Now()
	err = b.Execute(ctx, func(ctx context.Context) error {
		r, callErr := w.invoker.Call(ctx, url, env)
		if callErr != nil {
			return callErr
		}
		result = r
		return nil
	})
	if w.metrics != nil {
		status := "succeeded"
		if err != nil {
			status = "failed"
		}
		w.metrics.RecordInvocation(string(execType), status, time.Since(start))
		if control.IsCircuitOpen(err) {
			w.metrics.RecordBreakerShort(url)
		}
	}
	if err != nil {
		return nil, err
	}

	if !result.Success {
		return nil, control.NewRemoteExecutionError(result.Error, nil)
	}

	var out interface{}
	if result.Result != "" {
		if err := w.codec.Decode(result.Result, &out); err != nil {
			return nil, control.NewRemoteExecutionError("failed to decode remote result", err)
		}
	}
	return out, nil
}

// buildEnvelope encodes the opaque argument payloads.
func (w *Wrapper) buildEnvelope(fnName string, execType protocol.ExecutionType,
	args []interface{}, kwargs map[string]interface{}) (*protocol.CallEnvelope, error) {

	env := &protocol.CallEnvelope{
		FunctionName:  fnName,
		ExecutionType: execType,
		Args:          make([]string, 0, len(args)),
		Kwargs:        make(map[string]string, len(kwargs)),
	}
	for _, a := range args {
		encoded, err := w.codec.Encode(a)
		if err != nil {
			return nil, control.NewValidationError("failed to encode call argument", err)
		}
		env.Args = append(env.Args, encoded)
	}
	for k, v := range kwargs {
		encoded, err := w.codec.Encode(v)
		if err != nil {
			return nil, control.NewValidationError("failed to encode call argument", err)
		}
		env.Kwargs[k] = encoded
	}
	return env, nil
}
