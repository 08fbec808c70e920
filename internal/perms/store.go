package perms

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// storeFile is the on-disk shape of the permission store.
type storeFile struct {
	UserPerms  map[string][]Grant  `json:"user_perms"`
	GroupPerms map[string][]string `json:"group_perms"`
}

// Store owns the permission file. Reads hit the in-memory copy; every
// mutation rewrites the file atomically (temp file then rename).
type Store struct {
	mu   sync.RWMutex
	path string
	data storeFile
}

// OpenStore loads the store at path, creating it with empty maps when
// missing.
func OpenStore(path string) (*Store, error) {
	s := &Store{
		path: path,
		data: storeFile{
			UserPerms:  make(map[string][]Grant),
			GroupPerms: make(map[string][]string),
		},
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read perm store: %w", err)
		}
		if err := s.save(); err != nil {
			return nil, err
		}
		slog.Info("created permission store", "path", path)
		return s, nil
	}

	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("parse perm store %s: %w", path, err)
	}
	if s.data.UserPerms == nil {
		s.data.UserPerms = make(map[string][]Grant)
	}
	if s.data.GroupPerms == nil {
		s.data.GroupPerms = make(map[string][]string)
	}
	return s, nil
}

// save writes the store atomically. Caller must hold mu.
func (s *Store) save() error {
	raw, err := json.MarshalIndent(&s.data, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".perms-*")
	if err != nil {
		return fmt.Errorf("write perm store: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write perm store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write perm store: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}

// UserGrants returns a copy of the user's grant list.
func (s *Store) UserGrants(userID string) []Grant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	grants := s.data.UserPerms[userID]
	out := make([]Grant, len(grants))
	copy(out, grants)
	return out
}

// GroupGrants returns a copy of the group's permission list.
func (s *Store) GroupGrants(groupID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perms := s.data.GroupPerms[groupID]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

// AllUserGrants returns a copy of the full user table.
func (s *Store) AllUserGrants() map[string][]Grant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]Grant, len(s.data.UserPerms))
	for uid, grants := range s.data.UserPerms {
		cp := make([]Grant, len(grants))
		copy(cp, grants)
		out[uid] = cp
	}
	return out
}

// AllGroupGrants returns a copy of the full group table.
func (s *Store) AllGroupGrants() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string, len(s.data.GroupPerms))
	for gid, perms := range s.data.GroupPerms {
		cp := make([]string, len(perms))
		copy(cp, perms)
		out[gid] = cp
	}
	return out
}

// AddUserGrant appends a grant if not present and persists.
func (s *Store) AddUserGrant(userID string, grant Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.data.UserPerms[userID] {
		if g == grant {
			return nil
		}
	}
	s.data.UserPerms[userID] = append(s.data.UserPerms[userID], grant)
	return s.save()
}

// RemoveUserGrant removes a grant and persists.
func (s *Store) RemoveUserGrant(userID string, grant Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	grants := s.data.UserPerms[userID]
	for i, g := range grants {
		if g == grant {
			s.data.UserPerms[userID] = append(grants[:i], grants[i+1:]...)
			if len(s.data.UserPerms[userID]) == 0 {
				delete(s.data.UserPerms, userID)
			}
			return s.save()
		}
	}
	return fmt.Errorf("user %s does not hold (%s, %s)", userID, grant.Perm, grant.Group)
}

// AddGroupGrant appends a group permission if not present and persists.
func (s *Store) AddGroupGrant(groupID, perm string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.data.GroupPerms[groupID] {
		if p == perm {
			return nil
		}
	}
	s.data.GroupPerms[groupID] = append(s.data.GroupPerms[groupID], perm)
	return s.save()
}

// RemoveGroupGrant removes a group permission and persists.
func (s *Store) RemoveGroupGrant(groupID, perm string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	perms := s.data.GroupPerms[groupID]
	for i, p := range perms {
		if p == perm {
			s.data.GroupPerms[groupID] = append(perms[:i], perms[i+1:]...)
			if len(s.data.GroupPerms[groupID]) == 0 {
				delete(s.data.GroupPerms, groupID)
			}
			return s.save()
		}
	}
	return fmt.Errorf("group %s does not hold %s", groupID, perm)
}
