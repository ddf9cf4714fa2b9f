package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret-key-for-testing-purposes"

func newTestAuthenticator(t *testing.T) (*Authenticator, *Manager) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("honey-admin-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	m := NewManager(testSecret, time.Hour)
	return NewAuthenticator("Admin@Seujia.in", string(hash), m), m
}

func TestAuthenticator_Login(t *testing.T) {
	auth, m := newTestAuthenticator(t)

	token, expiresAt, err := auth.Login(context.Background(), " admin@seujia.in ", "honey-admin-pass")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "admin@seujia.in", claims.Email)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestAuthenticator_Rejects(t *testing.T) {
	auth, _ := newTestAuthenticator(t)

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "admin@seujia.in", "wrong-password"},
		{"wrong email", "someone@seujia.in", "honey-admin-pass"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, _, err := auth.Login(context.Background(), tt.email, tt.password)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
			assert.Empty(t, token)
		})
	}

	disabled := NewAuthenticator("", "", NewManager(testSecret, time.Hour))
	assert.False(t, disabled.Enabled())
	_, _, err := disabled.Login(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestManager_Parse(t *testing.T) {
	m := NewManager(testSecret, time.Hour)
	valid, _, err := m.Issue("admin@seujia.in", RoleAdmin)
	require.NoError(t, err)

	other, _, err := NewManager("another-secret-key-for-testing-purposes", time.Hour).Issue("admin@seujia.in", RoleAdmin)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Email: "admin@seujia.in", Role: RoleAdmin})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	expired := NewManager(testSecret, time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, err := expired.Issue("admin@seujia.in", RoleAdmin)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"valid", valid, nil},
		{"wrong secret", other, ErrInvalidToken},
		{"none algorithm", unsigned, ErrInvalidToken},
		{"garbage", "not.a.token", ErrInvalidToken},
		{"expired", old, ErrExpiredToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := m.Parse(tt.token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, claims)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, RoleAdmin, claims.Role)
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	m := NewManager(testSecret, time.Hour)
	admin, _, err := m.Issue("admin@seujia.in", RoleAdmin)
	require.NoError(t, err)
	customer, _, err := m.Issue("asha@example.com", "customer")
	require.NoError(t, err)

	var captured *Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequireAdmin(m)(next)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"admin token", "Bearer " + admin, http.StatusNoContent},
		{"lowercase scheme", "bearer " + admin, http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"basic auth", "Basic YWRtaW46cGFzcw==", http.StatusUnauthorized},
		{"customer token", "Bearer " + customer, http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			captured = nil
			req := httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNoContent {
				require.NotNil(t, captured)
				assert.Equal(t, "admin@seujia.in", captured.Email)
			} else {
				assert.Nil(t, captured)
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}
