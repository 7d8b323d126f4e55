package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type probeBody struct {
	Status string
	Checks map[string]string
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) probeBody {
	t.Helper()
	var body probeBody
	d := jx.DecodeBytes(w.Body.Bytes())
	require.NoError(t, d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := d.Str()
			body.Status = s
			return err
		case "checks":
			body.Checks = map[string]string{}
			return d.Obj(func(d *jx.Decoder, name string) error {
				msg, err := d.Str()
				body.Checks[name] = msg
				return err
			})
		default:
			return d.Skip()
		}
	}))
	return body
}

func ok() CheckFunc { return func(context.Context) error { return nil } }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func get(h http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func TestLiveEndpoint(t *testing.T) {
	h := New(zaptest.NewLogger(t))
	h.AddLivenessCheck("goroutines", time.Second, ok())

	w := get(h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "ok", decodeBody(t, w).Status)
}

func TestCheck_FailureThreshold(t *testing.T) {
	ctx := context.Background()
	h := New(zaptest.NewLogger(t))
	h.AddLivenessCheck("store", time.Second, failing("connection refused"))
	c := h.liveness[0]

	c.run(ctx)
	c.run(ctx)
	assert.Equal(t, http.StatusOK, get(h.LiveEndpoint).Code, "below threshold")

	c.run(ctx)
	w := get(h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "connection refused", body.Checks["store"])
}

func TestCheck_Recovers(t *testing.T) {
	ctx := context.Background()
	h := New(zaptest.NewLogger(t))

	var (
		mu   sync.Mutex
		down = true
	)
	h.AddReadinessCheckWithThresholds("store", time.Second, func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if down {
			return errors.New("down")
		}
		return nil
	}, Thresholds{FailureThreshold: 1, SuccessThreshold: 2})
	h.SetReady(true)
	c := h.readiness[0]

	c.run(ctx)
	assert.False(t, h.IsReady())

	mu.Lock()
	down = false
	mu.Unlock()

	c.run(ctx)
	assert.False(t, h.IsReady(), "needs two successes")
	c.run(ctx)
	assert.True(t, h.IsReady())
	assert.NoError(t, c.err())
}

func TestReadyEndpoint_NotReady(t *testing.T) {
	h := New(zaptest.NewLogger(t))
	h.AddReadinessCheck("store", time.Second, ok())

	w := get(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "service is not ready", decodeBody(t, w).Checks["_readiness"])

	h.SetReady(true)
	assert.Equal(t, http.StatusOK, get(h.ReadyEndpoint).Code)

	h.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, get(h.ReadyEndpoint).Code)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestPingCheck(t *testing.T) {
	require.NoError(t, PingCheck(pinger{})(context.Background()))

	errDown := errors.New("refused")
	require.ErrorIs(t, PingCheck(pinger{err: errDown})(context.Background()), errDown)
}

func TestStart_RunsChecksUntilStop(t *testing.T) {
	h := New(zaptest.NewLogger(t))
	h.AddReadinessCheckWithThresholds("store", time.Second, PingCheck(pinger{err: errors.New("x")}),
		Thresholds{FailureThreshold: 1, SuccessThreshold: 1})
	h.SetReady(true)

	h.Start(context.Background(), 10*time.Millisecond)
	defer h.Stop()

	require.Eventually(t, func() bool { return !h.IsReady() }, time.Second, 5*time.Millisecond)
	h.Stop()
	h.Stop()
}

func TestConcurrentAccess(t *testing.T) {
	h := New(zaptest.NewLogger(t))
	h.AddLivenessCheck("a", time.Second, ok())
	h.AddReadinessCheck("b", time.Second, ok())
	h.SetReady(true)
	h.Start(context.Background(), time.Millisecond)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				get(h.LiveEndpoint)
				get(h.ReadyEndpoint)
				h.IsReady()
			}
		}()
	}
	wg.Wait()
	h.Stop()
}

func TestBuiltinChecks(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, GoroutineCountCheck(100000)(ctx))
	err := GoroutineCountCheck(0)(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds threshold")

	assert.NoError(t, GCMaxPauseCheck(time.Hour)(ctx))
}
