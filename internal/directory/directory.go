// Package directory provides read-only lookups of study groups and their
// members, used to authorize joining a group's rooms. Group CRUD itself is
// owned by the account service and is not part of the hub.
package directory

import "context"

// GroupDirectory answers existence and membership questions for groups.
type GroupDirectory interface {
	GroupExists(ctx context.Context, groupID string) (bool, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}

// Static is an in-memory directory for tests and DB-less deployments. The
// zero value authorizes nothing; Open() authorizes everything.
type Static struct {
	groups  map[string]bool
	members map[string]map[string]bool
	open    bool
}

// Open returns a directory that accepts every group and member. Used when no
// database is configured.
func Open() *Static {
	return &Static{open: true}
}

// NewStatic builds a directory from explicit group -> member sets.
func NewStatic(members map[string][]string) *Static {
	s := &Static{
		groups:  make(map[string]bool),
		members: make(map[string]map[string]bool),
	}
	for groupID, users := range members {
		s.groups[groupID] = true
		set := make(map[string]bool, len(users))
		for _, u := range users {
			set[u] = true
		}
		s.members[groupID] = set
	}
	return s
}

func (s *Static) GroupExists(_ context.Context, groupID string) (bool, error) {
	if s.open {
		return true, nil
	}
	return s.groups[groupID], nil
}

func (s *Static) IsMember(_ context.Context, groupID, userID string) (bool, error) {
	if s.open {
		return true, nil
	}
	return s.members[groupID][userID], nil
}
