package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/filerelay/internal/common"
	"github.com/dmitrijs2005/filerelay/internal/server/models"
	"github.com/dmitrijs2005/filerelay/internal/server/storage"
	"github.com/dmitrijs2005/filerelay/internal/server/transfers"
	"github.com/go-chi/chi/v5"
)

// transferResponse is the JSON shape of a TransferRecord.
type transferResponse struct {
	ID            string                `json:"id"`
	SenderID      string                `json:"senderId"`
	RecipientID   string                `json:"recipientId"`
	FileName      string                `json:"fileName"`
	FileSize      int64                 `json:"fileSize"`
	FileType      string                `json:"fileType"`
	StorageHandle string                `json:"storageHandle,omitempty"`
	Status        models.TransferStatus `json:"status"`
	CreatedAt     string                `json:"createdAt"`
	TransferredAt *string               `json:"transferredAt,omitempty"`
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func toResponse(rec *models.TransferRecord) transferResponse {
	out := transferResponse{
		ID:            rec.ID,
		SenderID:      rec.SenderID,
		RecipientID:   rec.RecipientID,
		FileName:      rec.FileName,
		FileSize:      rec.FileSize,
		FileType:      rec.FileType,
		StorageHandle: rec.StorageHandle,
		Status:        rec.Status,
		CreatedAt:     rec.CreatedAt.UTC().Format(timeLayout),
	}
	if rec.TransferredAt != nil {
		t := rec.TransferredAt.UTC().Format(timeLayout)
		out.TransferredAt = &t
	}
	return out
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.registry.Count(),
		"sessions":    s.machine.Len(),
	})
}

// upload streams the multipart "file" part into the storage manager. An
// optional "fileSize" field sent before the file is checked against the
// ceiling before any content is read.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	// headroom for multipart framing
	r.Body = http.MaxBytesReader(w, r.Body, s.uploads.MaxSize()+common.MiB)

	mr, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: expected multipart/form-data: %v", common.ErrValidation, err))
		return
	}

	var declared int64
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			s.writeError(w, r, fmt.Errorf("%w: missing file part", common.ErrValidation))
			return
		}
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: %w", common.ErrValidation, err))
			return
		}

		switch part.FormName() {
		case "fileSize":
			raw, _ := io.ReadAll(io.LimitReader(part, 32))
			declared, err = strconv.ParseInt(string(raw), 10, 64)
			if err != nil || declared < 0 {
				s.writeError(w, r, fmt.Errorf("%w: invalid fileSize", common.ErrValidation))
				return
			}
		case "file":
			obj, err := s.uploads.Store(r.Context(), part, storage.Metadata{
				Owner:        identity(r).ID,
				FileName:     part.FileName(),
				MimeType:     part.Header.Get("Content-Type"),
				DeclaredSize: declared,
			})
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			s.logger.Info(r.Context(), "file uploaded", "identity", identity(r).ID, "handle", obj.Handle, "size", obj.SizeBytes)
			writeJSON(w, http.StatusCreated, obj)
			return
		}
	}
}

func (s *Server) recordTransfer(w http.ResponseWriter, r *http.Request) {
	var req transfers.RecordRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 64*1024))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: invalid JSON body: %v", common.ErrValidation, err))
		return
	}

	rec, err := s.transfers.Record(r.Context(), identity(r).ID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"transferId": rec.ID})
}

func (s *Server) listTransfers(w http.ResponseWriter, r *http.Request) {
	recs, err := s.transfers.List(r.Context(), identity(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]transferResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getTransfer(w http.ResponseWriter, r *http.Request) {
	rec, err := s.transfers.Get(r.Context(), identity(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec))
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	rec, pt, release, err := s.transfers.Download(r.Context(), identity(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer release()

	w.Header().Set("Content-Type", rec.FileType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": rec.FileName}))
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, rec.FileName, pt.ModTime, pt)
}

func (s *Server) deleteTransfer(w http.ResponseWriter, r *http.Request) {
	if err := s.transfers.Delete(r.Context(), identity(r).ID, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) onlineUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"users": s.registry.Identities()})
}
