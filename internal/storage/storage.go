package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ensigniasec/scanwatch/internal/phase"
	"github.com/ensigniasec/scanwatch/internal/validate"
)

// DefaultPath is where watch state lives unless overridden.
const DefaultPath = "~/.config/scanwatch/state.json"

// maxRecent bounds the recently watched user list.
const maxRecent = 5

// Data represents the structure of the storage file.
type Data struct {
	LastUserID    string      `json:"last_user_id,omitempty" validate:"omitempty,max=128,printascii"`
	LastPhase     phase.Phase `json:"last_phase,omitempty" validate:"omitempty,scan_phase"`
	LastWatchedAt time.Time   `json:"last_watched_at,omitzero"`
	Recent        []string    `json:"recent,omitempty" validate:"max=5,dive,max=128,printascii"`
	HostUUID      string      `json:"host_uuid,omitempty" validate:"omitempty,uuid_rfc4122"`
}

// Storage handles the loading and saving of the storage file.
type Storage struct {
	Path string `validate:"required,filepath"`
	Data Data
}

// NewStorage creates a new Storage instance, loading the file when it exists.
func NewStorage(path string) (*Storage, error) {
	expandedPath, err := expandTilde(path)
	if err != nil {
		return nil, err
	}

	s := &Storage{Path: expandedPath}

	if err := s.Load(); err != nil {
		// If the file doesn't exist, we can ignore the error.
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if s.Data.HostUUID == "" {
		s.Data.HostUUID = uuid.NewString()
	}

	return s, nil
}

// NewOrExistingStorage returns existing storage if the file exists, or creates a new one otherwise.
// When creating a new storage, it writes the initial structure to disk immediately.
func NewOrExistingStorage(path string) (*Storage, error) {
	expandedPath, err := expandTilde(path)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(expandedPath); err == nil {
		return NewStorage(path)
	} else if os.IsNotExist(err) {
		s, err := NewStorage(path)
		if err != nil {
			return nil, err
		}
		// Persist the generated host id so it is stable across runs.
		if err := s.Save(); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, err
}

func (s *Storage) Load() error {
	logrus.Debug("Loading storage file from: ", s.Path)
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, &s.Data); err != nil {
		return err
	}

	// Validate loaded data and self-heal when possible.
	if err := validate.Struct(s.Data); err != nil {
		changed := false
		if s.Data.HostUUID == "" || validate.Var(s.Data.HostUUID, "uuid4") != nil {
			s.Data.HostUUID = uuid.NewString()
			changed = true
		}
		if s.Data.LastPhase != "" && !s.Data.LastPhase.Valid() {
			logrus.Warn("Invalid last_phase found in storage; clearing.")
			s.Data.LastPhase = ""
			changed = true
		}
		if s.Data.LastUserID != "" && validate.Var(s.Data.LastUserID, "max=128,printascii") != nil {
			logrus.Warn("Invalid last_user_id found in storage; clearing.")
			s.Data.LastUserID = ""
			s.Data.LastPhase = ""
			changed = true
		}
		if validate.Var(s.Data.Recent, "max=5,dive,max=128,printascii") != nil {
			s.Data.Recent = nil
			changed = true
		}
		if changed {
			if err := s.Save(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Save writes the storage data to the file.
func (s *Storage) Save() error {
	logrus.Debug("Saving storage file to: ", s.Path)
	// Ensure parent directory exists.
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.Data, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.Path, data, 0o600)
}

// SetLastUser records userID as the one to resume and moves it to the front of Recent.
func (s *Storage) SetLastUser(userID string, now time.Time) error {
	if err := validate.Var(userID, "required,max=128,printascii"); err != nil {
		return err
	}
	if s.Data.LastUserID != userID {
		s.Data.LastPhase = ""
	}
	s.Data.LastUserID = userID
	s.Data.LastWatchedAt = now
	s.Data.Recent = slices.DeleteFunc(s.Data.Recent, func(id string) bool { return id == userID })
	s.Data.Recent = append([]string{userID}, s.Data.Recent...)
	if len(s.Data.Recent) > maxRecent {
		s.Data.Recent = s.Data.Recent[:maxRecent]
	}
	return s.Save()
}

// RecordPhase stores the last phase seen for the current user.
func (s *Storage) RecordPhase(p phase.Phase, now time.Time) error {
	if !p.Valid() {
		return nil
	}
	s.Data.LastPhase = p
	s.Data.LastWatchedAt = now
	return s.Save()
}

// ClearUser forgets the resumable user. Recent and the host id are kept.
func (s *Storage) ClearUser() error {
	s.Data.LastUserID = ""
	s.Data.LastPhase = ""
	s.Data.LastWatchedAt = time.Time{}
	return s.Save()
}

// Resumable reports whether the last watched job may still be running.
func (s *Storage) Resumable() bool {
	return s.Data.LastUserID != "" && !s.Data.LastPhase.Terminal()
}

// expandTilde expands the tilde in a path to the user's home directory.
func expandTilde(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(home, path[1:]), nil
}
