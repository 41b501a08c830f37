package api

import (
	"io"
	"net/http"

	"github.com/pennygo/gatekeeper/pkg/httputil"
	"github.com/pennygo/gatekeeper/pkg/middleware"
)

type submitRequest struct {
	Doc1Ref string `json:"doc1_ref"`
	Doc2Ref string `json:"doc2_ref"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Doc1Ref == "" || req.Doc2Ref == "" {
		httputil.WriteBadRequest(w, "doc1_ref and doc2_ref are required")
		return
	}

	record := middleware.GetIdentity(r)
	app, err := s.verifications.Submit(r.Context(), record, req.Doc1Ref, req.Doc2Ref)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, app)
}

func (s *Server) handleOwnStatus(w http.ResponseWriter, r *http.Request) {
	record := middleware.GetIdentity(r)
	app, err := s.verifications.StatusFor(r.Context(), record)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, app)
}

// handleUploadDocument stores one identity document in the private bucket
// and returns its opaque reference for a later submission
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	filename, ok := httputil.RequireQueryString(w, r, "filename")
	if !ok {
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read document body")
		return
	}
	if len(data) == 0 {
		httputil.WriteBadRequest(w, "document is empty")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	record := middleware.GetIdentity(r)
	ref, err := s.broker.StoreDocument(r.Context(), record.SubjectID, filename, contentType, data)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, map[string]string{"doc_ref": ref})
}
