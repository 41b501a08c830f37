package api

import (
	"net/http"

	"github.com/pennygo/gatekeeper/pkg/httputil"
	"github.com/pennygo/gatekeeper/pkg/middleware"
)

type signUpRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captcha_token"`
}

type signInRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captcha_token"`
}

type updateProfileRequest struct {
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "email and password are required")
		return
	}

	subject, err := s.accounts.SignUp(r.Context(), req.Email, req.Password, req.CaptchaToken, clientAddr(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, map[string]interface{}{
		"subject_id": subject.ID,
		"email":      subject.Email,
		"confirmed":  subject.ConfirmedAt != nil,
	})
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	session, err := s.accounts.SignIn(r.Context(), req.Email, req.Password, req.CaptchaToken, clientAddr(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, session)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.SignOut(r.Context(), middleware.GetSessionToken(r)); err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// handleSession reports who the caller is. An anonymous caller gets an
// explicit signed-out body, not an error: absence of a login is a normal
// state here.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	record := middleware.GetIdentity(r)
	if record == nil {
		httputil.WriteSuccess(w, map[string]interface{}{"signed_in": false})
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"signed_in":    true,
		"subject_id":   record.SubjectID,
		"email":        record.Email,
		"capabilities": record.Capabilities.List(),
		"profile":      record.Profile,
	})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.DisplayName == "" {
		httputil.WriteBadRequest(w, "display_name is required")
		return
	}

	record := middleware.GetIdentity(r)
	token := middleware.GetSessionToken(r)
	if err := s.accounts.UpdateProfile(r.Context(), record, token, req.DisplayName, req.AvatarRef); err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
