package idempotency_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/seujia/storefront/internal/db/dbtest"
	"github.com/seujia/storefront/internal/idempotency"
)

var testRedis *redis.Client

func TestMain(m *testing.M) {
	var err error
	testRedis, err = dbtest.OpenRedis()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to test Redis")
	}

	code := m.Run()
	if testRedis != nil {
		_ = testRedis.Close()
	}
	os.Exit(code)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Begin(ctx context.Context, key, fingerprint string) (*idempotency.Record, bool, error) {
	args := m.Called(ctx, key, fingerprint)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*idempotency.Record), args.Bool(1), args.Error(2)
}

func (m *MockStore) Complete(ctx context.Context, key string, rec idempotency.Record) error {
	return m.Called(ctx, key, rec).Error(0)
}

func (m *MockStore) Abort(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func newRouter(store idempotency.Store, status int, calls *atomic.Int32) *chi.Mux {
	r := chi.NewRouter()
	r.With(idempotency.Middleware(store)).Post("/api/checkout", func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"call":` + strconv.Itoa(int(n)) + `}`))
	})
	return r
}

func post(router http.Handler, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(idempotency.HeaderKey, key)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_ReplaysCompletedRequest(t *testing.T) {
	var calls atomic.Int32
	router := newRouter(idempotency.NewMemoryStore(time.Hour), http.StatusCreated, &calls)

	first := post(router, "key-1", `{"items":[1]}`)
	second := post(router, "key-1", `{"items":[1]}`)

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, `{"call":1}`, second.Body.String())
	assert.Equal(t, "true", second.Header().Get(idempotency.HeaderReplayed))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.EqualValues(t, 1, calls.Load())
}

func TestMiddleware_FingerprintMismatch(t *testing.T) {
	var calls atomic.Int32
	router := newRouter(idempotency.NewMemoryStore(time.Hour), http.StatusCreated, &calls)

	post(router, "key-1", `{"items":[1]}`)
	rec := post(router, "key-1", `{"items":[2]}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "different request")
	assert.EqualValues(t, 1, calls.Load())
}

func TestMiddleware_PassThrough(t *testing.T) {
	var calls atomic.Int32
	router := newRouter(idempotency.NewMemoryStore(time.Hour), http.StatusCreated, &calls)

	post(router, "", `{}`)
	post(router, "", `{}`)
	assert.EqualValues(t, 2, calls.Load())

	rec := post(router, strings.Repeat("k", 256), `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.EqualValues(t, 2, calls.Load())
}

func TestMiddleware_ServerErrorReleasesKey(t *testing.T) {
	var calls atomic.Int32
	router := newRouter(idempotency.NewMemoryStore(time.Hour), http.StatusBadGateway, &calls)

	post(router, "key-1", `{}`)
	rec := post(router, "key-1", `{}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Empty(t, rec.Header().Get(idempotency.HeaderReplayed))
	assert.EqualValues(t, 2, calls.Load())
}

func TestMiddleware_InProgress(t *testing.T) {
	store := idempotency.NewMemoryStore(time.Hour)
	_, claimed, err := store.Begin(context.Background(), "key-1", "")
	require.NoError(t, err)
	require.True(t, claimed)
	var calls atomic.Int32
	router := newRouter(&fixedFingerprintStore{Store: store}, http.StatusCreated, &calls)

	rec := post(router, "key-1", `{}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.EqualValues(t, 0, calls.Load())
}

// fixedFingerprintStore reports every stored record as matching.
type fixedFingerprintStore struct {
	idempotency.Store
}

func (s *fixedFingerprintStore) Begin(ctx context.Context, key, fingerprint string) (*idempotency.Record, bool, error) {
	rec, claimed, err := s.Store.Begin(ctx, key, fingerprint)
	if rec != nil {
		rec.Fingerprint = fingerprint
	}
	return rec, claimed, err
}

func TestMiddleware_StoreFailureFallsThrough(t *testing.T) {
	ms := new(MockStore)
	ms.On("Begin", mock.Anything, "key-1", mock.Anything).Return(nil, false, errors.New("redis down")).Once()
	var calls atomic.Int32
	router := newRouter(ms, http.StatusCreated, &calls)

	rec := post(router, "key-1", `{}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.EqualValues(t, 1, calls.Load())
	ms.AssertExpectations(t)
	ms.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func TestRedisStore(t *testing.T) {
	if testRedis == nil {
		t.Skip("REDIS_URL_TEST not set, skipping Redis integration test")
	}
	store := idempotency.NewRedisStore(testRedis, time.Minute)
	ctx := context.Background()
	key := "test-" + uuid.Must(uuid.NewV4()).String()

	rec, claimed, err := store.Begin(ctx, key, "fp-1")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Nil(t, rec)

	rec, claimed, err = store.Begin(ctx, key, "fp-1")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.False(t, rec.Completed)

	require.NoError(t, store.Complete(ctx, key, idempotency.Record{Fingerprint: "fp-1", StatusCode: 201, Body: []byte(`{"ok":true}`)}))
	rec, _, err = store.Begin(ctx, key, "fp-1")
	require.NoError(t, err)
	assert.True(t, rec.Completed)
	assert.Equal(t, 201, rec.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(rec.Body))

	require.NoError(t, store.Abort(ctx, key))
	_, claimed, err = store.Begin(ctx, key, "fp-2")
	require.NoError(t, err)
	assert.True(t, claimed)
	require.NoError(t, store.Abort(ctx, key))
}
