package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, key string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func driverClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"user_id": "driver-1",
		"email":   "driver@fleet.local",
		"role":    "driver",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
}

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	var got UserClaims
	h := Auth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetUserFromContext(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := serve(h, sign(t, secret, driverClaims()))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, UserClaims{UserID: "driver-1", Email: "driver@fleet.local", Role: "driver"}, got)
}

func TestAuth_Rejects(t *testing.T) {
	h := Auth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	expired := driverClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	noRole := driverClaims()
	delete(noRole, "role")

	cases := map[string]string{
		"missing":      "",
		"wrong secret": sign(t, "other", driverClaims()),
		"expired":      sign(t, secret, expired),
		"no role":      sign(t, secret, noRole),
		"garbage":      "not-a-jwt",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			rec := serve(h, token)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"success":false,"error":"Unauthorized"}`, rec.Body.String())
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := Auth(secret)(RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	assert.Equal(t, http.StatusForbidden, serve(h, sign(t, secret, driverClaims())).Code)

	admin := driverClaims()
	admin["role"] = "admin"
	assert.Equal(t, http.StatusNoContent, serve(h, sign(t, secret, admin)).Code)
}
