package model

import "time"

// Role tags a roster entry.
type Role string

const (
	RoleCreator     Role = "creator"
	RoleParticipant Role = "participant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// IsValid checks whether the role is a known value.
func (r Role) IsValid() bool {
	switch r {
	case RoleCreator, RoleParticipant:
		return true
	}
	return false
}

// Session is the persisted identity and code/lock state of a collaborative
// editing session.
type Session struct {
	ID        string    `json:"id"`
	CreatorID string    `json:"creator_id"`
	Code      string    `json:"code"`
	Locked    bool      `json:"locked"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Participant is a named member of a session's roster.
type Participant struct {
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	JoinedAt  time.Time `json:"joined_at"`
}
