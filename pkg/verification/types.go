// Package verification implements the organizer-candidacy workflow: a
// subject submits two identity documents, an administrator approves or
// rejects, and approval grants the organizer role.
package verification

import "time"

// Status is the state of a verification application
type Status string

const (
	// StatusNotApplied is the implicit state of a subject with no
	// application on record
	StatusNotApplied Status = "not_applied"
	// StatusPending means the application awaits an admin decision
	StatusPending Status = "pending"
	// StatusApproved is terminal for the application instance
	StatusApproved Status = "approved"
	// StatusRejected is terminal for the application instance; the subject
	// may submit a fresh application afterwards
	StatusRejected Status = "rejected"
)

// Terminal reports whether a status accepts no further transitions
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Decision is an admin ruling on a pending application
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Valid reports whether the decision is one of the two admissible rulings
func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// Application is a subject's request to be granted organizer capability
type Application struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subject_id"`
	Doc1Ref   string    `json:"-"` // Raw storage keys never leave the service
	Doc2Ref   string    `json:"-"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AdminView is an application enriched for the admin review queue: subject
// contact data joined in, and document references resolved to time-limited
// URLs instead of raw storage keys.
type AdminView struct {
	Application
	SubjectEmail string    `json:"subject_email,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	Doc1URL      string    `json:"doc1_url,omitempty"`
	Doc2URL      string    `json:"doc2_url,omitempty"`
	URLExpiry    time.Time `json:"url_expiry,omitempty"`
}
