package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/finbase/b3ingest/internal/ingest"
	"github.com/finbase/b3ingest/internal/ledger"
	"github.com/finbase/b3ingest/internal/store"
)

// handleHealth pings the backing store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unreachable: "+err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUpload ingests one multipart CSV upload. Success answers 201 with the
// upload record; any pipeline failure answers 400 with the raw message.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		if err := s.limiter.Acquire(r.Context()); err != nil {
			if errors.Is(err, ingest.ErrTooManyUploads) {
				writeError(w, http.StatusTooManyRequests, err.Error())
				return
			}
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		defer s.limiter.Release()
	}

	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or invalid form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	result := s.service.Ingest(r.Context(), header.Filename, file)
	if !result.Success {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": result.Message})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "upload successful",
		"data":    result.Upload,
	})
}

// handleHistory lists upload records, filtered by optional exact name and
// date-only uploaded_at. Results come from the fixed-key TTL cache.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var f ledger.Filter

	if name := r.URL.Query().Get("name"); name != "" {
		f.Name = &name
	}
	if raw := r.URL.Query().Get("uploaded_at"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "uploaded_at must be YYYY-MM-DD")
			return
		}
		f.UploadedAt = &t
	}

	records, err := s.service.History(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []ledger.UploadRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleSearch queries ingested rows by exact TckrSymb and/or RptDt. Calling
// it with neither filter is a normal negative result, answered 200 with
// success:false rather than an HTTP error.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var f store.ContentFilter

	if v := r.URL.Query().Get("TckrSymb"); v != "" {
		f.TckrSymb = &v
	}
	if v := r.URL.Query().Get("RptDt"); v != "" {
		f.RptDt = &v
	}

	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil && p > 0 {
			page = p
		}
	}

	result, err := s.service.Search(r.Context(), f, page)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if result.NoFilter() {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"message": result.Message,
		})
		return
	}
	writeJSON(w, http.StatusOK, result.Page)
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
