package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/pennygo/gatekeeper/pkg/httputil"
	"github.com/pennygo/gatekeeper/pkg/middleware"
	"github.com/pennygo/gatekeeper/pkg/roles"
	"github.com/pennygo/gatekeeper/pkg/verification"
)

type decideRequest struct {
	Decision verification.Decision `json:"decision"`
}

type addAdministratorRequest struct {
	SubjectID string `json:"subject_id"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	status := verification.Status(httputil.ParseQueryString(r, "status", ""))
	limit, _ := strconv.Atoi(httputil.ParseQueryString(r, "limit", "50"))
	offset, _ := strconv.Atoi(httputil.ParseQueryString(r, "offset", "0"))

	record := middleware.GetIdentity(r)
	views, err := s.verifications.Queue(r.Context(), record, status, limit, offset)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"applications": views,
		"count":        len(views),
	})
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	record := middleware.GetIdentity(r)
	view, err := s.verifications.Inspect(r.Context(), record, id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if view == nil {
		httputil.WriteNotFoundError(w, "application not found")
		return
	}

	httputil.WriteSuccess(w, view)
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req decideRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !req.Decision.Valid() {
		httputil.WriteBadRequest(w, "decision must be approved or rejected")
		return
	}

	record := middleware.GetIdentity(r)
	app, err := s.verifications.Decide(r.Context(), record, id, req.Decision)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, app)
}

// handleDisclosure issues a time-limited URL for a private verification
// document
func (s *Server) handleDisclosure(w http.ResponseWriter, r *http.Request) {
	ref, ok := httputil.RequireQueryString(w, r, "ref")
	if !ok {
		return
	}

	record := middleware.GetIdentity(r)
	doc, err := s.broker.Issue(r.Context(), record, ref)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, doc)
}

func (s *Server) handleAddAdministrator(w http.ResponseWriter, r *http.Request) {
	var req addAdministratorRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.SubjectID == "" {
		httputil.WriteBadRequest(w, "subject_id is required")
		return
	}

	if err := s.roles.AddAdministrator(r.Context(), req.SubjectID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.logger.WithFields(map[string]interface{}{
		"admin_id":   middleware.GetIdentity(r).SubjectID,
		"subject_id": req.SubjectID,
	}).Info("administrator added")
	httputil.WriteCreated(w, map[string]string{"subject_id": req.SubjectID})
}

func (s *Server) handleRemoveAdministrator(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	// An administrator may not remove their own registry entry; the last
	// admin locking everyone out is worse than a stale entry.
	if middleware.GetIdentity(r).SubjectID == id {
		httputil.WriteConflict(w, "administrators cannot remove themselves")
		return
	}

	if err := s.roles.RemoveAdministrator(r.Context(), id); err != nil {
		if errors.Is(err, roles.ErrAdministratorNotFound) {
			httputil.WriteNotFoundError(w, "administrator not found")
			return
		}
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}
