package session

import (
	"time"

	"github.com/google/uuid"
)

// Event subjects published on the bus.
const (
	SubjectSignedUp    = "outsy.auth.signed_up"
	SubjectLoggedIn    = "outsy.auth.logged_in"
	SubjectRefreshed   = "outsy.auth.refreshed"
	SubjectLoggedOut   = "outsy.auth.logged_out"
	SubjectRoleChanged = "outsy.auth.role_changed"
)

// Subjects lists every subject the service publishes.
var Subjects = []string{
	SubjectSignedUp,
	SubjectLoggedIn,
	SubjectRefreshed,
	SubjectLoggedOut,
	SubjectRoleChanged,
}

// Event is the payload of every auth event.
type Event struct {
	Subject string     `json:"subject"`
	UserID  uuid.UUID  `json:"userId"`
	ActorID *uuid.UUID `json:"actorId,omitempty"`
	Email   string     `json:"email,omitempty"`
	Role    string     `json:"role,omitempty"`
	Revoked int64      `json:"revoked,omitempty"`
	At      time.Time  `json:"at"`
}
