package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultIPGeoURL is a free, unauthenticated IP geolocation endpoint
const DefaultIPGeoURL = "https://ipapi.co/json/"

// IPLocator resolves an approximate position from the caller's public IP
type IPLocator struct {
	url    string
	client *http.Client
}

// ipGeoResponse covers the field names used by the common free providers
// (ipapi.co uses latitude/longitude, ip-api.com uses lat/lon)
type ipGeoResponse struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	Status    string   `json:"status"`
	Error     bool     `json:"error"`
	Reason    string   `json:"reason"`
	Message   string   `json:"message"`
}

// NewIPLocator creates a locator against url (DefaultIPGeoURL when empty)
func NewIPLocator(url string) *IPLocator {
	if url == "" {
		url = DefaultIPGeoURL
	}
	return &IPLocator{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Locate looks up the caller's approximate coordinates
func (s *IPLocator) Locate(ctx context.Context) (float64, float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("API returned status code %d", resp.StatusCode)
	}

	var result ipGeoResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, 0, fmt.Errorf("failed to decode response: %w", err)
	}

	if result.Error || result.Status == "fail" {
		reason := result.Reason
		if reason == "" {
			reason = result.Message
		}
		return 0, 0, fmt.Errorf("ip geolocation failed: %s", reason)
	}

	switch {
	case result.Latitude != nil && result.Longitude != nil:
		return *result.Latitude, *result.Longitude, nil
	case result.Lat != nil && result.Lon != nil:
		return *result.Lat, *result.Lon, nil
	}
	return 0, 0, fmt.Errorf("no coordinates in response")
}
