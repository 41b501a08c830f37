package identity

import "time"

// Capability is a privilege tag granted to a resolved identity
type Capability string

const (
	CapabilityTraveler      Capability = "traveler"      // Default for every signed-up subject
	CapabilityOrganizer     Capability = "organizer"     // Granted through verification approval
	CapabilityAdministrator Capability = "administrator" // Granted out of band via admin registry
)

// CapabilitySet is the set of capabilities held by an identity for the
// current request. It is rebuilt on every resolution and never cached.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet creates a capability set from the given capabilities
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// Has checks if the set contains a specific capability
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Add adds a capability to the set
func (s CapabilitySet) Add(c Capability) {
	s[c] = struct{}{}
}

// List returns capabilities in stable order for serialization
func (s CapabilitySet) List() []Capability {
	ordered := []Capability{CapabilityTraveler, CapabilityOrganizer, CapabilityAdministrator}
	out := make([]Capability, 0, len(s))
	for _, c := range ordered {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Profile is the projection of subject-owned display data plus the
// denormalized organizer status mirror
type Profile struct {
	DisplayName     string `json:"display_name,omitempty"`
	AvatarRef       string `json:"avatar_ref,omitempty"`
	OrganizerStatus string `json:"organizer_status,omitempty"`
}

// Record is a resolved identity. It is derived, not persisted: built fresh
// on every resolution call and valid only for the request that produced it.
type Record struct {
	SubjectID    string        `json:"subject_id"`
	Email        string        `json:"email,omitempty"`
	ConfirmedAt  *time.Time    `json:"confirmed_at,omitempty"`
	Capabilities CapabilitySet `json:"-"`
	Profile      Profile       `json:"profile"`
}

// IsAdministrator reports whether the record carries administrator capability
func (r *Record) IsAdministrator() bool {
	return r != nil && r.Capabilities.Has(CapabilityAdministrator)
}

// IsOrganizer reports whether the record carries organizer capability
func (r *Record) IsOrganizer() bool {
	return r != nil && r.Capabilities.Has(CapabilityOrganizer)
}
