// Package client talks to the fleet-tracker backend on behalf of the driver
// agent: login, shift records and position ingestion.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fleet-tracker/internal/models"
	"fleet-tracker/internal/session"
)

// ErrNoSession is returned by shift store calls made without a driver session
var ErrNoSession = errors.New("no driver session")

// APIError is a non-2xx backend response
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Message)
}

// Client is the backend API client. It implements tracking.Ingestor and
// shift.Store.
type Client struct {
	baseURL  string
	http     *http.Client
	sessions session.Provider
}

// New creates a client for baseURL. sessions supplies the bearer token for
// shift record calls.
func New(baseURL string, sessions session.Provider) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		sessions: sessions,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	OK      bool            `json:"ok"`
	Error   string          `json:"error"`
	Token   string          `json:"token"`
	Data    json.RawMessage `json:"data"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a driver token
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var resp envelope
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", "", loginRequest{Email: email, Password: password}, &resp); err != nil {
		return "", err
	}
	if !resp.OK || resp.Token == "" {
		return "", fmt.Errorf("login rejected for %s", email)
	}
	return resp.Token, nil
}

// Send posts one live sample
func (c *Client) Send(ctx context.Context, sess *session.Session, u models.LocationUpload) error {
	return c.do(ctx, http.MethodPost, "/api/driver/location", sess.Token, u, nil)
}

// SendBatch posts a replayed queue as one request
func (c *Client) SendBatch(ctx context.Context, sess *session.Session, batch []models.LocationUpload) error {
	return c.do(ctx, http.MethodPost, "/api/driver/location/batch", sess.Token, models.LocationBatch{Locations: batch}, nil)
}

// Create records a new shift and returns its id
func (c *Client) Create(ctx context.Context, s *models.Shift) (string, error) {
	sess, ok := c.sessions.Current(ctx)
	if !ok {
		return "", ErrNoSession
	}

	var resp envelope
	if err := c.do(ctx, http.MethodPost, "/api/driver/shifts", sess.Token, s, &resp); err != nil {
		return "", err
	}

	var created models.Shift
	if err := json.Unmarshal(resp.Data, &created); err != nil {
		return "", fmt.Errorf("failed to decode shift: %w", err)
	}
	if created.ID == "" {
		return "", errors.New("backend returned a shift without id")
	}
	return created.ID, nil
}

// Update writes a status transition to an existing shift
func (c *Client) Update(ctx context.Context, id string, u models.ShiftUpdate) error {
	sess, ok := c.sessions.Current(ctx)
	if !ok {
		return ErrNoSession
	}
	return c.do(ctx, http.MethodPatch, "/api/driver/shifts/"+url.PathEscape(id), sess.Token, u, nil)
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e envelope
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
