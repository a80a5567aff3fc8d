// Package session persists conversation transcripts between ChatLab runs as
// JSON files under ~/.chatlab/sessions.
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stupid-ve/ChatLab/errors"
	"github.com/stupid-ve/ChatLab/llm"
)

// Session is one saved conversation plus the chat-record scope it was about.
type Session struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	ChatID    string        `json:"chat_id,omitempty"`
	Messages  []llm.Message `json:"messages"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`

	path string
}

// New creates a fresh session with a generated id.
func New(name string) (*Session, error) {
	path, err := sessionPath(name)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		Name:      name,
		Messages:  []llm.Message{},
		CreatedAt: now,
		UpdatedAt: now,
		path:      path,
	}, nil
}

// Load reads an existing session by name.
func Load(name string) (*Session, error) {
	path, err := sessionPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read session %q", name)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "parse session %q", name)
	}
	s.path = path
	return &s, nil
}

// LoadOrNew loads the named session, creating it when no file exists yet.
func LoadOrNew(name string) (*Session, error) {
	s, err := Load(name)
	if err == nil {
		return s, nil
	}
	return New(name)
}

// Save writes the session to disk.
func (s *Session) Save() error {
	s.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "serialize session %q", s.Name)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write session %q", s.Name)
	}
	return nil
}

// Append records a turn in the transcript.
func (s *Session) Append(msg llm.Message) {
	s.Messages = append(s.Messages, msg)
}

// List returns the names of all saved sessions, sorted.
func List() ([]string, error) {
	dir, err := sessionDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "list sessions")
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

func sessionDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrapf(err, "resolve home directory")
	}
	return filepath.Join(home, ".chatlab", "sessions"), nil
}

func sessionPath(name string) (string, error) {
	dir, err := sessionDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create session directory")
	}
	return filepath.Join(dir, name+".json"), nil
}
