package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveEndpoint(t *testing.T) {
	t.Run("no probes is healthy", func(t *testing.T) {
		svc := New(time.Second)

		rec := httptest.NewRecorder()
		svc.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("failing probe reports details", func(t *testing.T) {
		svc := New(time.Second)
		svc.AddLivenessCheck("broken", time.Second, func(context.Context) error {
			return errors.New("it hurts")
		})

		rec := httptest.NewRecorder()
		svc.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var resp statusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "unhealthy", resp.Status)
		assert.Equal(t, "it hurts", resp.Checks["broken"])
	})
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("closed gate blocks even with passing probes", func(t *testing.T) {
		svc := New(time.Second)
		svc.AddReadinessCheck("db", time.Second, func(context.Context) error { return nil })

		rec := httptest.NewRecorder()
		svc.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("open gate with passing probes", func(t *testing.T) {
		svc := New(time.Second)
		svc.AddReadinessCheck("db", time.Second, func(context.Context) error { return nil })
		svc.SetReady(true)

		rec := httptest.NewRecorder()
		svc.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("gate closes again on shutdown", func(t *testing.T) {
		svc := New(time.Second)
		svc.SetReady(true)
		require.True(t, svc.IsReady())

		svc.SetReady(false)
		assert.False(t, svc.IsReady())
	})
}

func TestProbeCaching(t *testing.T) {
	t.Run("result cached within ttl", func(t *testing.T) {
		var calls atomic.Int32
		svc := New(time.Hour)
		svc.AddLivenessCheck("counted", time.Second, func(context.Context) error {
			calls.Add(1)
			return nil
		})

		for i := 0; i < 5; i++ {
			rec := httptest.NewRecorder()
			svc.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
			require.Equal(t, http.StatusOK, rec.Code)
		}
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("zero ttl re-runs every time", func(t *testing.T) {
		var calls atomic.Int32
		svc := New(0)
		svc.AddLivenessCheck("counted", time.Second, func(context.Context) error {
			calls.Add(1)
			return nil
		})

		for i := 0; i < 3; i++ {
			rec := httptest.NewRecorder()
			svc.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
		}
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("probe timeout bounds the check", func(t *testing.T) {
		svc := New(0)
		svc.AddLivenessCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})

		done := make(chan struct{})
		go func() {
			defer close(done)
			rec := httptest.NewRecorder()
			svc.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("probe did not respect its timeout")
		}
	})
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestPingCheck(t *testing.T) {
	assert.NoError(t, PingCheck(fakePinger{})(context.Background()))

	err := PingCheck(fakePinger{err: errors.New("refused")})(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}
