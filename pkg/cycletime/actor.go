package cycletime

import (
	"fmt"
	"strings"
)

// Role is the relationship of an event's actor to the pull request author.
type Role int

// Roles.
const (
	RoleNone Role = iota
	RoleAuthor
	RoleCollaborator
)

func (r Role) String() string {
	switch r {
	case RoleAuthor:
		return "author"
	case RoleCollaborator:
		return "collaborator"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	switch string(text) {
	case "author":
		*r = RoleAuthor
	case "collaborator":
		*r = RoleCollaborator
	case "none", "":
		*r = RoleNone
	default:
		return fmt.Errorf("unknown role %q", text)
	}
	return nil
}

// Classify returns RoleAuthor when user is the pull request author and
// RoleCollaborator otherwise.
//
// Identity is decided by account ID. Logins are only compared when one side
// has no ID, which happens with hosts that do not expose IDs on every payload.
func Classify(author, user Identity) Role {
	if author.ID != "" && user.ID != "" {
		if author.ID == user.ID {
			return RoleAuthor
		}
		return RoleCollaborator
	}
	if user.Login != "" && strings.EqualFold(author.Login, user.Login) {
		return RoleAuthor
	}
	return RoleCollaborator
}

// ClassifyCommit classifies a commit's author.
// Commits without a resolvable account are attributed to the pull request
// author: squash and rebase commits pushed by the author are the common case.
func ClassifyCommit(author Identity, user *Identity) Role {
	if user == nil || (user.ID == "" && user.Login == "") {
		return RoleAuthor
	}
	return Classify(author, *user)
}
