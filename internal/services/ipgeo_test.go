package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveJSON(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestIPLocator_LatitudeLongitudeFields(t *testing.T) {
	srv := serveJSON(t, http.StatusOK, `{"ip":"1.2.3.4","latitude":37.3382,"longitude":-121.8863}`)

	lat, lng, err := NewIPLocator(srv.URL).Locate(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 37.3382, lat)
	assert.Equal(t, -121.8863, lng)
}

func TestIPLocator_LatLonFields(t *testing.T) {
	srv := serveJSON(t, http.StatusOK, `{"status":"success","lat":51.5,"lon":-0.12}`)

	lat, lng, err := NewIPLocator(srv.URL).Locate(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 51.5, lat)
	assert.Equal(t, -0.12, lng)
}

func TestIPLocator_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusTooManyRequests, `{}`},
		{"provider error", http.StatusOK, `{"error":true,"reason":"RateLimited"}`},
		{"provider fail status", http.StatusOK, `{"status":"fail","message":"reserved range"}`},
		{"no coordinates", http.StatusOK, `{"ip":"1.2.3.4"}`},
		{"bad json", http.StatusOK, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serveJSON(t, tt.status, tt.body)

			_, _, err := NewIPLocator(srv.URL).Locate(context.Background())

			assert.Error(t, err)
		})
	}
}
