package handler

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/kart-checkout/internal/docstore/memory"
	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/stock"
	"github.com/xenking/kart-checkout/internal/identity"
	"github.com/xenking/kart-checkout/internal/repository"
	"github.com/xenking/kart-checkout/internal/session"
)

const (
	testPepper   = "test-pepper"
	adminKey     = "admin-secret"
	readOnlyKey  = "read-only"
	checkoutBody = `{"address":{"street":"1 Ave","city":"X","state":"Y","postalCode":"00001"},"shippingCost":"5.00","paymentMethod":"card"}`
)

type testServer struct {
	t        *testing.T
	srv      *httptest.Server
	h        *Handler
	sessions *session.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	lg := zaptest.NewLogger(t)
	tp, mp := tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider()

	store := memory.New()
	products := repository.NewProductRepository(store)
	orders := repository.NewOrderRepository(store)
	apikeys := repository.NewAPIKeyRepository(store)

	require.NoError(t, products.Put(ctx, product.Product{
		ID:       "p1",
		Name:     "Waffle",
		Category: "Waffle",
		Price:    decimal.RequireFromString("6.50"),
		Stock:    2,
	}))
	require.NoError(t, apikeys.Put(ctx, auth.APIKeyInfo{
		ID:      "k1",
		KeyHash: auth.HashKey(adminKey, []byte(testPepper)),
		Name:    "ops",
		Scopes:  []string{auth.ScopeOrdersAdmin},
		Active:  true,
	}))
	require.NoError(t, apikeys.Put(ctx, auth.APIKeyInfo{
		ID:      "k2",
		KeyHash: auth.HashKey(readOnlyKey, []byte(testPepper)),
		Name:    "reports",
		Active:  true,
	}))

	reserver, err := stock.NewReserver(store, lg, tp, mp)
	require.NoError(t, err)
	writer, err := order.NewWriter(orders, repository.NewAddressRepository(store), lg, tp, mp)
	require.NoError(t, err)

	sessions := session.NewRegistry(func() *cart.Manager {
		return cart.NewManager(store, reserver, lg, cart.Options{FlushDelay: time.Hour})
	}, lg, session.Options{})
	t.Cleanup(func() { _ = sessions.Close(context.Background()) })

	h := NewHandler(
		sessions,
		products,
		writer,
		order.NewDesk(orders, lg),
		identity.DevVerifier{},
		NewSecurityHandler(apikeys, []byte(testPepper), auth.ScopeOrdersAdmin),
	)
	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv, h: h, sessions: sessions}
}

func (s *testServer) do(method, path string, headers map[string]string, body string) (int, []byte) {
	s.t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, r)
	require.NoError(s.t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(s.t, err)
	return resp.StatusCode, data
}

func (s *testServer) newSession() string {
	s.t.Helper()
	status, body := s.do(http.MethodPost, "/api/sessions", nil, "")
	require.Equal(s.t, http.StatusCreated, status)
	id := field(s.t, body, "sessionId")
	require.NotEmpty(s.t, id)
	return id
}

func (s *testServer) login(sid, token string) {
	s.t.Helper()
	status, body := s.do(http.MethodPost, "/api/sessions/current/login", map[string]string{
		SessionHeader:   sid,
		"Authorization": "Bearer " + token,
	}, "")
	require.Equal(s.t, http.StatusOK, status, string(body))
}

func (s *testServer) addItem(sid, productID string, qty int) (int, []byte) {
	s.t.Helper()
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("productId", func(e *jx.Encoder) { e.Str(productID) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(qty) })
	})
	return s.do(http.MethodPost, "/api/cart/items", map[string]string{SessionHeader: sid}, e.String())
}

// field returns a top-level value of a JSON object, unquoting strings.
func field(t *testing.T, body []byte, key string) string {
	t.Helper()
	var out string
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, k string) error {
		if k != key {
			return d.Skip()
		}
		if d.Next() == jx.String {
			s, err := d.Str()
			out = s
			return err
		}
		raw, err := d.Raw()
		out = raw.String()
		return err
	})
	require.NoError(t, err, string(body))
	return out
}

func countItems(t *testing.T, body []byte, key string) int {
	t.Helper()
	n := 0
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, k string) error {
		if k != key {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			n++
			return d.Skip()
		})
	})
	require.NoError(t, err, string(body))
	return n
}

func TestUnknownSession(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(http.MethodGet, "/api/cart", map[string]string{SessionHeader: "nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(http.MethodGet, "/api/cart", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestProducts(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(http.MethodGet, "/api/products", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"id":"p1"`)
	assert.Contains(t, string(body), `"price":6.50`)

	status, body = s.do(http.MethodGet, "/api/products/p1", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "2", field(t, body, "stock"))

	status, _ = s.do(http.MethodGet, "/api/products/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = s.do(http.MethodGet, "/api/products?ids=p1,missing", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"id":"p1"`)
}

func TestCart_AddAndAdjust(t *testing.T) {
	s := newTestServer(t)
	sid := s.newSession()
	hdr := map[string]string{SessionHeader: sid}

	status, body := s.addItem(sid, "p1", 1)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "populated", field(t, body, "state"))
	assert.Equal(t, "6.50", field(t, body, "subtotal"))

	status, body = s.do(http.MethodPost, "/api/cart/items/p1/increase", hdr, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "13.00", field(t, body, "subtotal"))

	status, body = s.do(http.MethodPost, "/api/cart/items/p1/decrease", hdr, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "6.50", field(t, body, "subtotal"))

	status, body = s.do(http.MethodDelete, "/api/cart/items/p1", hdr, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "empty", field(t, body, "state"))
	assert.Equal(t, 0, countItems(t, body, "items"))

	status, _ = s.do(http.MethodPost, "/api/cart/items/p1/increase", hdr, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCart_AddErrors(t *testing.T) {
	s := newTestServer(t)
	sid := s.newSession()

	status, _ := s.addItem(sid, "p1", 0)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = s.addItem(sid, "missing", 1)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.addItem(sid, "p1", 3)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = s.do(http.MethodPost, "/api/cart/items", map[string]string{SessionHeader: sid}, `{"quantity":`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCheckout_RequiresSignIn(t *testing.T) {
	s := newTestServer(t)
	sid := s.newSession()
	hdr := map[string]string{SessionHeader: sid}

	status, _ := s.addItem(sid, "p1", 1)
	require.Equal(t, http.StatusOK, status)

	status, _ = s.do(http.MethodPost, "/api/checkout", hdr, checkoutBody)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(http.MethodGet, "/api/orders", hdr, "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestCheckout_EmptyCart(t *testing.T) {
	s := newTestServer(t)
	sid := s.newSession()
	s.login(sid, "u1|a@example.com")

	status, _ := s.do(http.MethodPost, "/api/checkout", map[string]string{SessionHeader: sid}, checkoutBody)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestLogin_ReplacesGuestCart(t *testing.T) {
	s := newTestServer(t)
	sid := s.newSession()

	status, _ := s.addItem(sid, "p1", 1)
	require.Equal(t, http.StatusOK, status)

	status, body := s.do(http.MethodPost, "/api/sessions/current/login", map[string]string{
		SessionHeader:   sid,
		"Authorization": "Bearer u1|a@example.com|Ann",
	}, "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"displayName":"Ann"`)
	assert.Contains(t, string(body), `"state":"empty"`)

	status, _ = s.do(http.MethodPost, "/api/sessions/current/login", map[string]string{SessionHeader: sid}, "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestCheckoutFlow(t *testing.T) {
	s := newTestServer(t)
	sid := s.newSession()
	hdr := map[string]string{SessionHeader: sid}
	s.login(sid, "u1|a@example.com")

	status, _ := s.addItem(sid, "p1", 2)
	require.Equal(t, http.StatusOK, status)

	status, body := s.do(http.MethodPost, "/api/checkout", hdr, checkoutBody)
	require.Equal(t, http.StatusCreated, status, string(body))
	orderID := field(t, body, "orderId")
	require.NotEmpty(t, orderID)

	status, body = s.do(http.MethodGet, "/api/cart", hdr, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "empty", field(t, body, "state"))

	status, body = s.do(http.MethodGet, "/api/orders/"+orderID, hdr, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pending", field(t, body, "status"))
	assert.Equal(t, "13.00", field(t, body, "subtotal"))
	assert.Equal(t, "18.00", field(t, body, "total"))
	assert.Contains(t, string(body), `"full":"1 Ave, X, Y 00001"`)

	status, body = s.do(http.MethodGet, "/api/orders", hdr, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, countItems(t, body, "orders"))

	// Stock went to zero with the reservation.
	status, _ = s.addItem(sid, "p1", 1)
	assert.Equal(t, http.StatusConflict, status)

	other := s.newSession()
	s.login(other, "u2")
	status, _ = s.do(http.MethodGet, "/api/orders/"+orderID, map[string]string{SessionHeader: other}, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestLogout_DropsCart(t *testing.T) {
	s := newTestServer(t)
	sid := s.newSession()
	hdr := map[string]string{SessionHeader: sid}
	s.login(sid, "u1")

	status, _ := s.addItem(sid, "p1", 1)
	require.Equal(t, http.StatusOK, status)

	status, _ = s.do(http.MethodPost, "/api/sessions/current/logout", hdr, "")
	require.Equal(t, http.StatusNoContent, status)

	status, body := s.do(http.MethodGet, "/api/cart", hdr, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "empty", field(t, body, "state"))

	status, _ = s.do(http.MethodDelete, "/api/sessions/current", hdr, "")
	require.Equal(t, http.StatusNoContent, status)
	status, _ = s.do(http.MethodGet, "/api/cart", hdr, "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAdmin(t *testing.T) {
	s := newTestServer(t)
	sid := s.newSession()
	s.login(sid, "u1")
	status, _ := s.addItem(sid, "p1", 1)
	require.Equal(t, http.StatusOK, status)
	status, body := s.do(http.MethodPost, "/api/checkout", map[string]string{SessionHeader: sid}, checkoutBody)
	require.Equal(t, http.StatusCreated, status)
	orderID := field(t, body, "orderId")

	admin := map[string]string{APIKeyHeader: adminKey}
	statusPath := "/api/admin/orders/" + orderID + "/status"

	t.Run("Unauthorized", func(t *testing.T) {
		status, _ := s.do(http.MethodGet, "/api/admin/orders", nil, "")
		assert.Equal(t, http.StatusUnauthorized, status)
		status, _ = s.do(http.MethodGet, "/api/admin/orders", map[string]string{APIKeyHeader: "wrong"}, "")
		assert.Equal(t, http.StatusUnauthorized, status)
	})
	t.Run("MissingScope", func(t *testing.T) {
		status, _ := s.do(http.MethodGet, "/api/admin/orders", map[string]string{APIKeyHeader: readOnlyKey}, "")
		assert.Equal(t, http.StatusForbidden, status)
	})
	t.Run("List", func(t *testing.T) {
		status, body := s.do(http.MethodGet, "/api/admin/orders?userId=u1", admin, "")
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, 1, countItems(t, body, "orders"))

		status, _ = s.do(http.MethodGet, "/api/admin/orders?limit=0", admin, "")
		assert.Equal(t, http.StatusBadRequest, status)
	})
	t.Run("Lifecycle", func(t *testing.T) {
		status, _ := s.do(http.MethodPatch, statusPath, admin, `{"status":"lost"}`)
		assert.Equal(t, http.StatusBadRequest, status)

		status, _ = s.do(http.MethodPatch, statusPath, admin, `{"status":"delivered"}`)
		assert.Equal(t, http.StatusConflict, status)

		status, body := s.do(http.MethodPatch, statusPath, admin, `{"status":"processing"}`)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "processing", field(t, body, "status"))

		status, body = s.do(http.MethodGet, "/api/admin/orders/"+orderID, admin, "")
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "processing", field(t, body, "status"))
	})
	t.Run("UnknownOrder", func(t *testing.T) {
		status, _ := s.do(http.MethodPatch, "/api/admin/orders/missing/status", admin, `{"status":"processing"}`)
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestStreamMyOrders(t *testing.T) {
	s := newTestServer(t)
	sid := s.newSession()
	hdr := map[string]string{SessionHeader: sid}

	status, _ := s.do(http.MethodGet, "/api/orders/stream", hdr, "")
	require.Equal(t, http.StatusUnauthorized, status)

	s.login(sid, "u1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.srv.URL+"/api/orders/stream", nil)
	require.NoError(t, err)
	req.Header.Set(SessionHeader, sid)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := bufio.NewReader(resp.Body)
	next := func() string {
		for {
			line, err := events.ReadString('\n')
			require.NoError(t, err)
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				return data
			}
		}
	}
	assert.Equal(t, 0, countItems(t, []byte(next()), "orders"))

	status, _ = s.addItem(sid, "p1", 1)
	require.Equal(t, http.StatusOK, status)
	status, _ = s.do(http.MethodPost, "/api/checkout", hdr, checkoutBody)
	require.Equal(t, http.StatusCreated, status)

	assert.Equal(t, 1, countItems(t, []byte(next()), "orders"))
}

func TestAddItem_SharedWorkIgnoresCallerCancel(t *testing.T) {
	s := newTestServer(t)
	sid := s.newSession()
	shopper, err := s.sessions.Get(sid)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/cart/items",
		strings.NewReader(`{"productId":"p1","quantity":1}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.h.AddItem(rec, req, shopper)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, shopper.Cart.Items(), 1)
	assert.Equal(t, 1, shopper.Cart.Items()[0].Quantity)
}
