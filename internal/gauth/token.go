// Package gauth supplies bearer tokens for Google API calls. Token
// acquisition and refresh happen outside this process; this package only
// reads the result.
package gauth

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Source yields the current bearer token.
type Source interface {
	Token() (string, error)
}

// FileSource reads the token from a file and re-reads it when the file
// changes, so an external refresher can rotate the token in place. The file
// holds either a JSON object with an "access_token" field or the raw token.
type FileSource struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	cached  string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Token() (string, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return "", fmt.Errorf("token file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != "" && info.ModTime().Equal(s.modTime) {
		return s.cached, nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("token file: %w", err)
	}
	tok := parseToken(raw)
	if tok == "" {
		return "", fmt.Errorf("token file %s holds no token", s.path)
	}
	s.cached = tok
	s.modTime = info.ModTime()
	return tok, nil
}

func parseToken(raw []byte) string {
	var obj struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.AccessToken != "" {
		return obj.AccessToken
	}
	return strings.TrimSpace(string(raw))
}

// Static wraps a fixed token. Used by tests.
type Static string

func (s Static) Token() (string, error) { return string(s), nil }
