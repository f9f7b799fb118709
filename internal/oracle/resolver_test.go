package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearinghouse/prediction-core/internal/model"
)

func schema(url string) model.ResolutionSchema {
	return model.ResolutionSchema{
		Type:      "http_json",
		SourceURL: url,
		JSONPath:  "$.data.status",
		Condition: model.Condition{Operator: model.OpEq, Value: "closed"},
	}
}

func TestResolveSimpleYes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"status":"closed"}}`))
	}))
	defer srv.Close()

	r := New()
	res, err := r.Resolve(context.Background(), schema(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeYes, res.Outcome)
	assert.Equal(t, "closed", res.EvaluatedValue)
}

func TestResolveConditionFailsYieldsNo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"status":"open"}}`))
	}))
	defer srv.Close()

	r := New()
	res, err := r.Resolve(context.Background(), schema(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNo, res.Outcome)
}

// TestResolveRetriesThenSucceeds is spec.md §8 scenario 5: retry_count=3,
// the endpoint returns 503, 503, 200 in sequence; the resolver must return
// YES after exactly three attempts, having waited at least
// initial + initial*2 between them, less the backoff jitter.
func TestResolveRetriesThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"data":{"status":"closed"}}`))
	}))
	defer srv.Close()

	s := schema(srv.URL)
	s.RetryCount = 3

	r := New()
	start := time.Now()
	res, err := r.Resolve(context.Background(), s)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeYes, res.Outcome)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.GreaterOrEqual(t, elapsed, time.Duration(float64(backoffInitial+2*backoffInitial)*(1-backoffJitter)))
}

func TestResolveExhaustsRetryBudgetOnPersistent5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := schema(srv.URL)
	s.RetryCount = 2

	r := New()
	_, err := r.Resolve(context.Background(), s)
	assert.ErrorIs(t, err, ErrHTTPError)
}

func TestResolveNonRetryable4xxFailsImmediately(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := schema(srv.URL)
	s.RetryCount = 5

	r := New()
	_, err := r.Resolve(context.Background(), s)
	assert.ErrorIs(t, err, ErrHTTPError)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "a non-retryable 4xx must not be retried")
}

func TestResolveMissingSelectorIsIndeterminate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	r := New()
	_, err := r.Resolve(context.Background(), schema(srv.URL))
	assert.ErrorIs(t, err, ErrIndeterminate)
}

func TestResolveExistsOperatorToleratesMissingPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	s := schema(srv.URL)
	s.Condition = model.Condition{Operator: model.OpExists}
	r := New()
	res, err := r.Resolve(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNo, res.Outcome)
}
