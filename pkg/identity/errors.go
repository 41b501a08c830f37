package identity

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the authorization core. Handlers map these
// to HTTP statuses with errors.Is; callers must never see raw store errors.
var (
	// ErrSessionInvalid means the credential provider rejected or could not
	// confirm the session. Callers treat it the same as "no session".
	ErrSessionInvalid = errors.New("session invalid")

	// ErrForbidden means a capability check failed
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidTransition means a state-machine rule was violated
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrApplicationAlreadyPending means the subject already has a pending
	// verification application
	ErrApplicationAlreadyPending = errors.New("application already pending")

	// ErrCaptchaFailed means captcha verification did not pass before a
	// credential mutation
	ErrCaptchaFailed = errors.New("captcha verification failed")

	// ErrCaptchaUnavailable means the captcha verification service could not
	// give a definitive answer. Retryable; the token is not consumed.
	ErrCaptchaUnavailable = errors.New("captcha verification unavailable")

	// ErrStorageUnavailable is a transient blob-store failure. Safe to retry
	// the single failed operation. Never conflated with ErrForbidden.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// MirrorMismatchError records a detected divergence between the
// role-assignment registry and the profile projection's status mirror.
// It is logged for repair and surfaced to administrators as a warning;
// it never blocks capability resolution.
type MirrorMismatchError struct {
	SubjectID    string
	RegistryRole string
	MirrorStatus string
}

func (e *MirrorMismatchError) Error() string {
	return fmt.Sprintf("mirror mismatch for subject %s: registry role %q, mirror status %q",
		e.SubjectID, e.RegistryRole, e.MirrorStatus)
}

// IsMirrorMismatch checks if an error is a mirror mismatch
func IsMirrorMismatch(err error) bool {
	var mm *MirrorMismatchError
	return errors.As(err, &mm)
}
