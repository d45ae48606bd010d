package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/atas-admin-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Comments & Attachments Handlers
// ============================================================

// maxUploadBytes bounds a single attachment upload.
const maxUploadBytes = 25 << 20

type commentRequest struct {
	Body string `json:"body"`
}

func listCommentsHandler(table string, svc *service.CommentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /"+table+"/{id}/comments")
		defer span.End()

		comments, err := svc.List(ctx, table, chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, readState(comments, nil))
	}
}

func createCommentHandler(table string, svc *service.CommentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /"+table+"/{id}/comments")
		defer span.End()

		var req commentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		c, err := svc.Create(ctx, table, chi.URLParam(r, "id"), req.Body)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

func editCommentHandler(svc *service.CommentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /comments/{id}")
		defer span.End()

		var req commentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		c, err := svc.Edit(ctx, chi.URLParam(r, "id"), req.Body)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func deleteCommentHandler(svc *service.CommentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /comments/{id}")
		defer span.End()

		if err := svc.Delete(ctx, chi.URLParam(r, "id")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listAttachmentsHandler(table string, svc *service.CommentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /"+table+"/{id}/attachments")
		defer span.End()

		items, err := svc.ListAttachments(ctx, table, chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, readState(items, nil))
	}
}

// uploadAttachmentHandler accepts multipart/form-data with a "file" part and
// an optional "commentId" field.
func uploadAttachmentHandler(table string, svc *service.CommentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /"+table+"/{id}/attachments")
		defer span.End()

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "upload inválido: "+err.Error())
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "arquivo obrigatório")
			return
		}
		defer file.Close()

		up := service.Upload{
			ParentTable:    table,
			ParentEntityID: chi.URLParam(r, "id"),
			Name:           header.Filename,
			MimeType:       header.Header.Get("Content-Type"),
			Body:           file,
		}
		if cid := r.FormValue("commentId"); cid != "" {
			up.CommentID = &cid
		}
		if up.MimeType == "" {
			up.MimeType = "application/octet-stream"
		}

		a, err := svc.AddAttachment(ctx, up)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, a)
	}
}

func deleteAttachmentHandler(svc *service.CommentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /attachments/{id}")
		defer span.End()

		if err := svc.RemoveAttachment(ctx, chi.URLParam(r, "id")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func attachmentURLHandler(svc *service.CommentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /attachments/{id}/url")
		defer span.End()

		ttl := 15 * time.Minute
		if v, err := time.ParseDuration(r.URL.Query().Get("ttl")); err == nil && v > 0 && v <= 24*time.Hour {
			ttl = v
		}
		url, err := svc.AttachmentURL(ctx, chi.URLParam(r, "id"), ttl)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"url":       url,
			"expiresAt": time.Now().Add(ttl).UTC(),
		})
	}
}
