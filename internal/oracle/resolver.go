// Package oracle evaluates a market's declarative ResolutionSchema against
// an external data source and yields a binary outcome, per spec.md §4.5.
//
// Grounded on 0xtitan6-polymarket-mm's internal/exchange client (resty with
// a configured base timeout and context-aware requests, status-code checks
// after every call, errors wrapped with fmt.Errorf) and on mbd888-alancoin's
// internal/retry package for the retryable/permanent error split — here
// expressed with the real cenkalti/backoff/v4 library rather than the
// hand-rolled loop, since the policy spec.md names (exponential with
// multiplier and jitter, capped at a max delay) is exactly what
// backoff.ExponentialBackOff computes.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	"github.com/clearinghouse/prediction-core/internal/model"
)

const (
	defaultRetryCount = 3
	defaultTimeout    = 30 * time.Second

	backoffInitial    = 100 * time.Millisecond
	backoffMultiplier = 2.0
	backoffMax        = 10 * time.Second
	backoffJitter     = 0.1
)

// Result is what the resolver hands to the settlement engine.
type Result struct {
	Outcome        model.Outcome
	RawData        json.RawMessage
	EvaluatedValue any
}

// Options configures the resolver's default HTTP timeout and retry policy;
// an individual market's ResolutionSchema overrides Timeout/RetryCount when
// it sets TimeoutMS/RetryCount explicitly (see Resolve).
type Options struct {
	Timeout           time.Duration
	RetryCount        int
	BackoffInitial    time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration
	BackoffJitter     float64
}

// DefaultOptions mirrors the defaults spec.md §4.5 names.
func DefaultOptions() Options {
	return Options{
		Timeout:           defaultTimeout,
		RetryCount:        defaultRetryCount,
		BackoffInitial:    backoffInitial,
		BackoffMultiplier: backoffMultiplier,
		BackoffMax:        backoffMax,
		BackoffJitter:     backoffJitter,
	}
}

// Resolver fetches and evaluates ResolutionSchemas over HTTP.
type Resolver struct {
	client *resty.Client
	opts   Options
}

// New builds a Resolver with spec.md's default timeout and retry policy.
func New() *Resolver {
	return NewWithOptions(DefaultOptions())
}

// NewWithOptions builds a Resolver from an operator-tuned policy, typically
// sourced from config.OracleConfig.
func NewWithOptions(opts Options) *Resolver {
	client := resty.New().SetTimeout(opts.Timeout)
	return &Resolver{client: client, opts: opts}
}

// Resolve fetches the schema's source once per retry attempt and evaluates
// its condition against the extracted value. The returned error, when
// non-nil, is one of ErrTimeout, ErrHTTPError, ErrIndeterminate, or
// ErrSchemaError (wrapped with context).
func (r *Resolver) Resolve(ctx context.Context, schema model.ResolutionSchema) (Result, error) {
	timeout := r.opts.Timeout
	if schema.TimeoutMS > 0 {
		timeout = time.Duration(schema.TimeoutMS) * time.Millisecond
	}
	retryCount := r.opts.RetryCount
	if schema.RetryCount > 0 {
		retryCount = schema.RetryCount
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.opts.BackoffInitial
	bo.Multiplier = r.opts.BackoffMultiplier
	bo.MaxInterval = r.opts.BackoffMax
	bo.RandomizationFactor = r.opts.BackoffJitter
	bo.MaxElapsedTime = 0 // bounded by retryCount below, not by elapsed wall time

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retryCount-1)), ctx)

	var result Result
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		raw, err := r.fetch(attemptCtx, schema)
		if err != nil {
			return err // fetch already classifies permanent vs retryable
		}

		res, err := evaluate(schema, raw)
		if err != nil {
			return backoff.Permanent(err)
		}
		result = res
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		var perm *backoff.PermanentError
		if ok := asPermanent(err, &perm); ok {
			return Result{}, perm.Err
		}
		return Result{}, err
	}
	return result, nil
}

func asPermanent(err error, target **backoff.PermanentError) bool {
	pe, ok := err.(*backoff.PermanentError)
	if ok {
		*target = pe
	}
	return ok
}

// fetch performs one HTTP round trip and classifies the outcome: a network
// failure or 5xx/429 response is returned as-is (retryable by the caller's
// backoff policy); any other non-2xx status is wrapped as a
// backoff.Permanent error.
func (r *Resolver) fetch(ctx context.Context, schema model.ResolutionSchema) (json.RawMessage, error) {
	req := r.client.R().SetContext(ctx)
	for k, v := range schema.Headers {
		req.SetHeader(k, v)
	}

	var resp *resty.Response
	var err error
	switch schema.Type {
	case "graphql":
		req.SetBody(map[string]any{"query": schema.Query, "variables": schema.Variables})
		resp, err = req.Post(schema.SourceURL)
	case "http_json":
		method := schema.Method
		if method == "" {
			method = "GET"
		}
		if schema.Body != nil {
			req.SetBody(schema.Body)
		}
		resp, err = req.Execute(method, schema.SourceURL)
	default:
		return nil, backoff.Permanent(fmt.Errorf("%w: unknown schema type %q", ErrSchemaError, schema.Type))
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrTimeout, err))
		}
		return nil, fmt.Errorf("%w: %v", ErrHTTPError, err) // network failure: retryable
	}

	status := resp.StatusCode()
	if status >= 500 || status == 429 {
		return nil, fmt.Errorf("%w: status %d", ErrHTTPError, status)
	}
	if status >= 400 {
		return nil, backoff.Permanent(fmt.Errorf("%w: status %d", ErrHTTPError, status))
	}
	return resp.Body(), nil
}

// evaluate extracts schema.JSONPath from raw and applies schema.Condition.
func evaluate(schema model.ResolutionSchema, raw json.RawMessage) (Result, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Result{}, fmt.Errorf("%w: unparseable response body: %v", ErrSchemaError, err)
	}

	value, pathErr := jsonpath.Get(schema.JSONPath, doc)
	if pathErr != nil || value == nil {
		if schema.Condition.Operator == model.OpExists {
			return Result{Outcome: model.OutcomeNo, RawData: raw, EvaluatedValue: nil}, nil
		}
		return Result{}, fmt.Errorf("%w: json_path %q not found", ErrIndeterminate, schema.JSONPath)
	}

	holds, err := holdsCondition(schema.Condition, value)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSchemaError, err)
	}

	outcome := model.OutcomeNo
	if holds {
		outcome = model.OutcomeYes
	}
	return Result{Outcome: outcome, RawData: raw, EvaluatedValue: value}, nil
}
