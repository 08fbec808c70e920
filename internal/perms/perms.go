package perms

import (
	"log/slog"
	"sync"
)

// GlobalGroup is the pseudo group whose grants apply in every context.
const GlobalGroup = "-1"

// AllGroups is the wildcard group scope on a user grant.
const AllGroups = "ALL"

// AllPerms is the wildcard permission name.
const AllPerms = "ALL"

// consoleUser bypasses every permission check.
const consoleUser = "Console"

// Grant is one user-level permission entry: a permission name scoped to
// a group ID, "ALL", or the global group "-1".
type Grant struct {
	Perm  string `json:"perm"`
	Group string `json:"group"`
}

// System answers permission checks and persists grants.
type System struct {
	mu         sync.RWMutex
	registered map[string]string  // perm name -> description
	store      *Store
}

// New creates a permission system backed by the JSON store at path.
func New(path string) (*System, error) {
	store, err := OpenStore(path)
	if err != nil {
		return nil, err
	}
	return &System{
		registered: make(map[string]string),
		store:      store,
	}, nil
}

// RegisterPerm declares a permission name with a description. Checking
// an unregistered permission logs a warning and allows.
func (s *System) RegisterPerm(name, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registered[name]; ok {
		slog.Warn("permission already registered, overwriting", "perm", name)
	}
	s.registered[name] = description
}

// RegisteredPerms returns a copy of the registered permission table.
func (s *System) RegisteredPerms() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.registered))
	for k, v := range s.registered {
		out[k] = v
	}
	return out
}

// Check resolves whether the user may exercise any of the given
// permissions in the given group ("" or "-1" for private context).
// First match wins:
//  1. Console user always allowed.
//  2. Any-of over the permission list.
//  3. Unregistered permission: warn and allow.
//  4. User holds (ALL, *).
//  5. User holds (perm, ALL).
//  6. User holds (perm, group).
//  7. Group holds perm.
//  8. Global group "-1" holds perm.
func (s *System) Check(perms []string, userID, groupID string) bool {
	if userID == consoleUser {
		return true
	}
	if groupID == "" {
		groupID = GlobalGroup
	}
	for _, perm := range perms {
		if s.checkOne(perm, userID, groupID) {
			return true
		}
	}
	return false
}

// CheckOne is Check with a single permission name.
func (s *System) CheckOne(perm, userID, groupID string) bool {
	return s.Check([]string{perm}, userID, groupID)
}

func (s *System) checkOne(perm, userID, groupID string) bool {
	s.mu.RLock()
	_, known := s.registered[perm]
	s.mu.RUnlock()
	if !known {
		slog.Warn("checking unregistered permission, allowing", "perm", perm)
		return true
	}

	for _, g := range s.store.UserGrants(userID) {
		if g.Perm == AllPerms {
			return true
		}
		if g.Perm != perm {
			continue
		}
		if g.Group == AllGroups || g.Group == groupID {
			return true
		}
	}

	for _, p := range s.store.GroupGrants(groupID) {
		if p == perm {
			return true
		}
	}
	if groupID != GlobalGroup {
		for _, p := range s.store.GroupGrants(GlobalGroup) {
			if p == perm {
				return true
			}
		}
	}
	return false
}

// AddUserPerm grants (perm, group) to a user and persists.
func (s *System) AddUserPerm(perm, userID, group string) error {
	if group == "" {
		group = AllGroups
	}
	return s.store.AddUserGrant(userID, Grant{Perm: perm, Group: group})
}

// RemoveUserPerm revokes (perm, group) from a user and persists.
func (s *System) RemoveUserPerm(perm, userID, group string) error {
	if group == "" {
		group = AllGroups
	}
	return s.store.RemoveUserGrant(userID, Grant{Perm: perm, Group: group})
}

// AddGroupPerm grants perm to every member of a group and persists.
func (s *System) AddGroupPerm(perm, groupID string) error {
	return s.store.AddGroupGrant(groupID, perm)
}

// RemoveGroupPerm revokes perm from a group and persists.
func (s *System) RemoveGroupPerm(perm, groupID string) error {
	return s.store.RemoveGroupGrant(groupID, perm)
}

// UserGrants lists a user's grants.
func (s *System) UserGrants(userID string) []Grant {
	return s.store.UserGrants(userID)
}

// AllUserGrants returns the full user grant table.
func (s *System) AllUserGrants() map[string][]Grant {
	return s.store.AllUserGrants()
}

// AllGroupGrants returns the full group grant table.
func (s *System) AllGroupGrants() map[string][]string {
	return s.store.AllGroupGrants()
}
