// Package session holds the driver's backend credential and tells the
// transmission path whether an authenticated session is available.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
)

// ErrInvalidToken is returned when a token cannot be read as a driver JWT
var ErrInvalidToken = errors.New("invalid session token")

// Session is an authenticated driver session
type Session struct {
	Token     string
	DriverID  string
	Email     string
	Role      string
	ExpiresAt time.Time // zero when the token carries no exp claim
}

// Expired reports whether the session is past its expiry at now
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Provider yields the current session, if any
type Provider interface {
	Current(ctx context.Context) (*Session, bool)
}

// Parse reads the claims of a backend issued token. The signature is not
// checked here; the backend verifies it on every request.
func Parse(token string) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user_id claim", ErrInvalidToken)
	}
	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)

	s := &Session{Token: token, DriverID: userID, Email: email, Role: role}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if exp != nil {
		s.ExpiresAt = exp.Time
	}
	return s, nil
}

// TokenStore keeps the driver token in memory and, when a path is set,
// on disk so it survives agent restarts. A token written to the file by
// another process, such as `agent login`, is picked up on the next Current.
type TokenStore struct {
	mu      sync.RWMutex
	session *Session
	path    string
	loaded  fileStamp
	now     func() time.Time
}

// fileStamp identifies one version of the token file
type fileStamp struct {
	mod  time.Time
	size int64
}

func stampOf(info os.FileInfo) fileStamp {
	return fileStamp{mod: info.ModTime(), size: info.Size()}
}

// NewTokenStore creates a store backed by path (may be empty) and loads any
// token already saved there
func NewTokenStore(path string) *TokenStore {
	s := &TokenStore{path: path, now: time.Now}
	s.reload()
	return s
}

// reload reads the token file again if it changed since the last read. A
// missing or unreadable file keeps the session already in memory.
func (s *TokenStore) reload() {
	if s.path == "" {
		return
	}
	info, err := os.Stat(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).Warnf("⚠️  could not stat token file %s", s.path)
		}
		return
	}

	stamp := stampOf(info)
	s.mu.RLock()
	unchanged := stamp == s.loaded
	s.mu.RUnlock()
	if unchanged {
		return
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		log.WithError(err).Warnf("⚠️  could not read token file %s", s.path)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = stamp
	sess, err := Parse(string(data))
	if err != nil {
		log.WithError(err).Warnf("⚠️  ignoring token file %s", s.path)
		return
	}
	if s.session == nil || s.session.Token != sess.Token {
		log.WithField("driver_id", sess.DriverID).Info("🔑 Loaded session from token file")
	}
	s.session = sess
}

// Set replaces the stored token
func (s *TokenStore) Set(token string) error {
	sess, err := Parse(token)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = sess

	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(sess.Token), 0o600); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	if info, err := os.Stat(s.path); err == nil {
		s.loaded = stampOf(info)
	}
	return nil
}

// Clear forgets the token
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	s.loaded = fileStamp{}
	if s.path != "" {
		os.Remove(s.path)
	}
}

// Current returns the stored session unless it is missing or expired
func (s *TokenStore) Current(context.Context) (*Session, bool) {
	s.reload()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil || s.session.Expired(s.now()) {
		return nil, false
	}
	copied := *s.session
	return &copied, true
}

// DriverID returns the driver of the stored token even if it has expired
func (s *TokenStore) DriverID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ""
	}
	return s.session.DriverID
}
