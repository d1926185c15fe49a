package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pawmart/api/internal/platform/auth"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func newCheckoutRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func TestMiddleware_MissingHeader(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))
	handler := middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked when header is missing")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newCheckoutRequest("", `{"shippingId":"s-1"}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddleware_OptionalKeyPassesThrough(t *testing.T) {
	called := false
	handler := Middleware(NewMemoryStore(), WithOptionalKey())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newCheckoutRequest("", `{}`))

	if !called || rr.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, called=%v status=%d", called, rr.Code)
	}
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ord-1"}`))
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newCheckoutRequest("abc-123", `{"shippingId":"s-1"}`))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newCheckoutRequest("abc-123", `{"shippingId":"s-1"}`))

	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
	if rr1.Code != http.StatusCreated || rr2.Code != http.StatusCreated {
		t.Fatalf("unexpected statuses %d/%d", rr1.Code, rr2.Code)
	}
	if rr2.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header")
	}
	if got := rr2.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected content-type json, got %s", got)
	}
	if rr2.Body.String() != rr1.Body.String() {
		t.Fatalf("expected body %s, got %s", rr1.Body.String(), rr2.Body.String())
	}
}

func TestMiddleware_KeysAreScopedPerUser(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for _, uid := range []string{"user-a", "user-b"} {
		req := newCheckoutRequest("shared", `{}`)
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("unexpected status %d for %s", rr.Code, uid)
		}
	}
	if calls != 2 {
		t.Fatalf("expected both users to reach the handler, got %d", calls)
	}
}

func TestMiddleware_ConflictingFingerprintReturnsConflict(t *testing.T) {
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newCheckoutRequest("same-key", `{"foo":"bar"}`))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newCheckoutRequest("same-key", `{"foo":"baz"}`))

	if rr2.Code != http.StatusConflict {
		t.Fatalf("expected conflict status, got %d", rr2.Code)
	}
	assertErrorResponse(t, rr2.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_PendingReservationReturnsConflict(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked when reservation pending")
	}))

	req := newCheckoutRequest("pending-key", `{"foo":"bar"}`)
	body, err := bufferBody(req)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	requester := requesterID(req)
	fingerprint := requestFingerprint(req, body, requester)
	if _, err := store.Reserve(req.Context(), "pending-key|"+requester, fingerprint, fixedTime, time.Hour); err != nil {
		t.Fatalf("failed to seed reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for pending reservation, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddleware_ServerErrorReleasesReservation(t *testing.T) {
	store := &stubStore{}
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newCheckoutRequest("retry-me", `{}`))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected handler status to pass through, got %d", rr.Code)
	}
	if !store.released || store.saved {
		t.Fatalf("expected release without save, released=%v saved=%v", store.released, store.saved)
	}
}

func TestMiddleware_SaveFailureStillDeliversResponse(t *testing.T) {
	store := &stubStore{failSave: true}
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newCheckoutRequest("fail-key", `{}`))

	if rr.Code != http.StatusCreated || rr.Body.String() != "ok" {
		t.Fatalf("expected original response, got %d %q", rr.Code, rr.Body.String())
	}
	if !store.released {
		t.Fatalf("expected reservation to be released on save failure")
	}
}

func TestMiddleware_IgnoresSafeMethods(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected GET to bypass middleware, got %d", rr.Code)
	}
}

func TestMemoryStore_ExpiryAndCleanup(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Reserve(ctx, "k1", "fp", fixedTime, time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.SaveResponse(ctx, "k1", "fp", Response{Status: http.StatusCreated}, fixedTime, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, err := store.Reserve(ctx, "k1", "fp", fixedTime.Add(30*time.Second), time.Minute)
	if err != nil || res.State != ReservationStateCompleted {
		t.Fatalf("expected completed reservation, got %+v (%v)", res, err)
	}

	res, err = store.Reserve(ctx, "k1", "other", fixedTime.Add(2*time.Minute), time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expired key should be reclaimable, got %+v (%v)", res, err)
	}

	if _, err := store.Reserve(ctx, "k2", "fp", fixedTime, time.Second); err != nil {
		t.Fatalf("reserve k2: %v", err)
	}
	removed, err := store.CleanupExpired(ctx, fixedTime.Add(time.Hour), 0)
	if err != nil || removed != 2 {
		t.Fatalf("expected 2 expired records removed, got %d (%v)", removed, err)
	}
}

type stubStore struct {
	failSave bool
	saved    bool
	released bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{State: ReservationStateNew}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	s.saved = true
	return nil
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
