// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

package elnweb

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/arclab/eln/auth"
	"github.com/arclab/eln/draft"
	"github.com/arclab/eln/eln"
	"github.com/arclab/eln/elnpath"
	"github.com/arclab/eln/filestage"
	"github.com/arclab/eln/submission"
)

func (server *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	server.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleRuntimeConfig returns the identity-provider coordinates a browser
// client needs before it holds any token. No secrets.
func (server *Server) handleRuntimeConfig(w http.ResponseWriter, r *http.Request) {
	bundle, err := server.tenantForRequest(r)
	if err != nil {
		server.writeError(w, err)
		return
	}
	server.writeJSON(w, http.StatusOK, map[string]any{
		"tenant":      bundle.Name,
		"environment": bundle.Config.Environment,
		"auth": map[string]string{
			"provider":   bundle.Config.Auth.Provider,
			"issuer_url": bundle.Config.Auth.IssuerURL,
			"client_id":  bundle.Config.Auth.ClientID,
			"pool_id":    bundle.Config.Auth.PoolID,
			"region":     bundle.Config.Auth.Region,
		},
	})
}

func (server *Server) handlePrivateConfig(w http.ResponseWriter, r *http.Request, req *request) {
	config := req.tenant.Config
	server.writeJSON(w, http.StatusOK, map[string]any{
		"tenant": req.tenant.Name,
		"files": map[string]any{
			"max_file_size":        config.Files.MaxFileSize.String(),
			"max_request_size":     config.Files.MaxRequestSize.String(),
			"allowed_extensions":   config.Files.AllowedExtensions,
			"forbidden_extensions": config.Files.ForbiddenExtensions,
		},
		"drafts": map[string]any{
			"retention_days": config.Drafts.RetentionDays,
		},
		"cors": map[string]any{
			"allowed_origins": config.CORS.AllowedOrigins,
		},
		"permissions": req.user.Permissions,
		"is_admin":    req.user.IsAdmin,
	})
}

func (server *Server) handleSOPList(w http.ResponseWriter, r *http.Request, req *request) {
	entries, err := req.tenant.SOPs.List(r.Context())
	if err != nil {
		server.writeError(w, err)
		return
	}
	server.writeJSON(w, http.StatusOK, map[string]any{
		"sops":  entries,
		"total": len(entries),
	})
}

type sopFieldView struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Title    string   `json:"title,omitempty"`
	Required bool     `json:"required"`
	Children []string `json:"children,omitempty"`
}

func (server *Server) handleSOPGet(w http.ResponseWriter, r *http.Request, req *request) {
	descriptor, err := req.tenant.SOPs.Get(r.Context(), mux.Vars(r)["sop_id"])
	if err != nil {
		server.writeError(w, err)
		return
	}

	fields := make([]sopFieldView, 0, len(descriptor.Nodes))
	for _, node := range descriptor.Nodes {
		view := sopFieldView{ID: node.ID, Type: node.Type, Title: node.Title, Required: node.Required}
		for _, child := range node.Children {
			view.Children = append(view.Children, descriptor.Nodes[child].ID)
		}
		fields = append(fields, view)
	}
	server.writeJSON(w, http.StatusOK, map[string]any{
		"sop": map[string]any{
			"sop_id":                   descriptor.SOPID,
			"version":                  descriptor.Version,
			"title":                    descriptor.Title,
			"filename_component_order": descriptor.FilenameOrder,
			"fields":                   fields,
		},
		"metadata": descriptor.Metadata,
	})
}

type draftSaveBody struct {
	SOPID             string         `json:"sop_id"`
	SessionID         string         `json:"session_id"`
	DraftID           string         `json:"draft_id"`
	Title             string         `json:"title"`
	Completion        int            `json:"completion_percentage"`
	FormData          map[string]any `json:"form_data"`
	FilenameVariables []string       `json:"filename_variables"`
	FieldIDs          []string       `json:"field_ids"`
}

func (server *Server) handleDraftSave(w http.ResponseWriter, r *http.Request, req *request) {
	var body draftSaveBody
	if err := server.readJSON(w, r, &body); err != nil {
		server.writeError(w, err)
		return
	}
	if !auth.Check(req.user, "draft:"+body.SOPID) {
		server.writeError(w, eln.ErrForbidden.Wrap(Error.New("draft:%s not granted", body.SOPID)))
		return
	}
	saved, err := req.tenant.Drafts.Save(r.Context(), req.user, draft.SaveRequest{
		SOPID:             body.SOPID,
		SessionID:         body.SessionID,
		DraftID:           body.DraftID,
		Title:             body.Title,
		Completion:        body.Completion,
		FormData:          body.FormData,
		FilenameVariables: body.FilenameVariables,
		FieldIDs:          body.FieldIDs,
	})
	if err != nil {
		server.writeError(w, err)
		return
	}
	server.writeJSON(w, http.StatusOK, saved)
}

func (server *Server) handleDraftList(w http.ResponseWriter, r *http.Request, req *request) {
	drafts, err := req.tenant.Drafts.List(r.Context(), req.user, r.URL.Query().Get("sop_id"))
	if err != nil {
		server.writeError(w, err)
		return
	}
	if drafts == nil {
		drafts = []draft.Metadata{}
	}
	server.writeJSON(w, http.StatusOK, map[string]any{
		"drafts": drafts,
		"total":  len(drafts),
	})
}

func (server *Server) handleDraftGet(w http.ResponseWriter, r *http.Request, req *request) {
	found, err := req.tenant.Drafts.Get(r.Context(), req.user,
		r.URL.Query().Get("sop_id"), mux.Vars(r)["draft_id"])
	if err != nil {
		server.writeError(w, err)
		return
	}
	server.writeJSON(w, http.StatusOK, found)
}

func (server *Server) handleDraftDelete(w http.ResponseWriter, r *http.Request, req *request) {
	err := req.tenant.Drafts.Delete(r.Context(), req.user,
		r.URL.Query().Get("sop_id"), mux.Vars(r)["draft_id"])
	if err != nil {
		server.writeError(w, err)
		return
	}
	server.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleFileUpload accepts multipart uploads. Field parts (sop_id, draft_id,
// field_id) must precede the file parts; each file part streams straight to
// the staging area without buffering the whole body.
func (server *Server) handleFileUpload(w http.ResponseWriter, r *http.Request, req *request) {
	if limit := req.tenant.Config.Files.MaxRequestSize.Int64(); limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	reader, err := r.MultipartReader()
	if err != nil {
		server.writeError(w, eln.ErrInvalid.Wrap(Error.New("multipart body required")))
		return
	}

	var sopID, draftID, fieldID string
	var fileIDs, uploadedURLs []string
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			server.writeError(w, classifyBodyError(err))
			return
		}

		if part.FileName() == "" {
			value, err := io.ReadAll(io.LimitReader(part, 1024))
			if err != nil {
				server.writeError(w, classifyBodyError(err))
				return
			}
			switch part.FormName() {
			case "sop_id":
				sopID = string(value)
			case "draft_id":
				draftID = string(value)
			case "field_id":
				fieldID = string(value)
			}
			continue
		}

		if !auth.Check(req.user, "draft:"+sopID) {
			server.writeError(w, eln.ErrForbidden.Wrap(Error.New("draft:%s not granted", sopID)))
			return
		}
		staged, err := req.tenant.Stager.Upload(r.Context(), req.user, filestage.UploadRequest{
			SOPID:        sopID,
			DraftID:      draftID,
			FieldID:      fieldID,
			OriginalName: part.FileName(),
			MimeType:     part.Header.Get("Content-Type"),
			Body:         part,
		})
		if err != nil {
			server.writeError(w, err)
			return
		}
		fileIDs = append(fileIDs, staged.TempID)
		uploadedURLs = append(uploadedURLs, elnpath.DraftAttachmentKey(sopID, staged.StoredName))
	}

	if len(fileIDs) == 0 {
		server.writeError(w, eln.ErrInvalid.Wrap(Error.New("no file parts in upload")))
		return
	}
	server.writeJSON(w, http.StatusOK, map[string]any{
		"file_ids":      fileIDs,
		"uploaded_urls": uploadedURLs,
	})
}

func (server *Server) handleFileDelete(w http.ResponseWriter, r *http.Request, req *request) {
	query := r.URL.Query()
	err := req.tenant.Stager.Delete(r.Context(), req.user,
		query.Get("sop_id"), query.Get("draft_id"), mux.Vars(r)["temp_id"])
	if err != nil {
		server.writeError(w, err)
		return
	}
	server.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (server *Server) handleAttach(w http.ResponseWriter, r *http.Request, req *request) {
	var body struct {
		SOPID   string `json:"sop_id"`
		ELNUUID string `json:"eln_uuid"`
	}
	if err := server.readJSON(w, r, &body); err != nil {
		server.writeError(w, err)
		return
	}
	result, err := req.tenant.Engine.Attach(r.Context(), req.user, body.SOPID, body.ELNUUID)
	if err != nil && !eln.ErrPartialFailure.Has(err) {
		server.writeError(w, err)
		return
	}
	server.writeJSON(w, http.StatusOK, attachResponse(result, err))
}

type submitBody struct {
	SOPID     string         `json:"sop_id"`
	DraftID   string         `json:"draft_id"`
	SessionID string         `json:"session_id"`
	FormData  map[string]any `json:"form_data"`
}

func (server *Server) handleSubmit(w http.ResponseWriter, r *http.Request, req *request) {
	var body submitBody
	if err := server.readJSON(w, r, &body); err != nil {
		server.writeError(w, err)
		return
	}

	descriptor, err := req.tenant.SOPs.Get(r.Context(), body.SOPID)
	if err != nil {
		server.writeError(w, err)
		return
	}

	var attachments []draft.StagedFile
	sessionID := body.SessionID
	if body.DraftID != "" {
		source, err := req.tenant.Drafts.Get(r.Context(), req.user, body.SOPID, body.DraftID)
		if err != nil {
			server.writeError(w, err)
			return
		}
		attachments = source.StagedFiles
		if source.SessionID != "" {
			sessionID = source.SessionID
		}
	}

	result, err := req.tenant.Engine.Submit(r.Context(), req.user, descriptor, submission.SubmitRequest{
		FormData:      body.FormData,
		Attachments:   attachments,
		SourceDraftID: body.DraftID,
		SessionID:     sessionID,
	})
	if err != nil && !eln.ErrPartialFailure.Has(err) {
		server.writeError(w, err)
		return
	}
	// the body is committed even when some moves are pending; the advisory
	// lists the temp ids left for retry
	server.writeJSON(w, http.StatusOK, attachResponse(result, err))
}

func attachResponse(result *submission.Result, err error) map[string]any {
	response := map[string]any{
		"eln_uuid": result.ELNUUID,
		"filename": result.Filename,
		"attached": result.Attached,
		"status":   "ok",
	}
	if err != nil {
		response["status"] = "partial_failure"
		response["pending"] = result.Pending
	}
	return response
}

// readJSON decodes a JSON request body bounded by the tenant request limit.
func (server *Server) readJSON(w http.ResponseWriter, r *http.Request, target any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 4<<20)
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return classifyBodyError(err)
	}
	return nil
}

func classifyBodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return eln.ErrTooLarge.Wrap(Error.New("request body exceeds limit"))
	}
	return eln.ErrInvalid.Wrap(Error.New("malformed request body"))
}

func (server *Server) writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		server.log.Warn("response write failed", zap.Error(err))
	}
}

// writeError maps a domain error to its wire status and a stable kind. The
// message is the domain message for client errors and generic for the rest;
// internals never leak.
func (server *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := "internal error"
	if status < http.StatusInternalServerError {
		message = trimClasses(err.Error())
	} else if eln.ErrProviderUnreachable.Has(err) {
		message = "identity provider unreachable"
	}
	if status >= http.StatusInternalServerError {
		server.log.Error("request failed", zap.Error(err))
	}
	server.writeJSON(w, status, map[string]string{
		"error":   eln.Kind(err),
		"message": message,
	})
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case eln.ErrUnauthenticated.Has(err),
		auth.ErrTokenExpired.Has(err),
		auth.ErrTokenMalformed.Has(err):
		return http.StatusUnauthorized
	case eln.ErrProviderUnreachable.Has(err):
		return http.StatusBadGateway
	case eln.ErrForbidden.Has(err):
		return http.StatusForbidden
	case eln.ErrNotFound.Has(err):
		return http.StatusNotFound
	case eln.ErrConflict.Has(err):
		return http.StatusConflict
	case eln.ErrTooLarge.Has(err):
		return http.StatusRequestEntityTooLarge
	case eln.ErrForbiddenType.Has(err):
		return http.StatusUnsupportedMediaType
	case eln.ErrInvalid.Has(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// trimClasses strips the leading "class: class:" chain so clients see the
// human tail of the message.
func trimClasses(message string) string {
	for {
		head, tail, found := strings.Cut(message, ": ")
		if !found || strings.ContainsAny(head, " \t") {
			return message
		}
		message = tail
	}
}
