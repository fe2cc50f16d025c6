package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/opensyndicate/syndicate/internal/files"
)

// uploadMemoryLimit bounds how much of a multipart body is buffered in memory
// before spilling to disk.
const uploadMemoryLimit = 8 << 20

// uploadFile handles POST /api/files/upload. The multipart form carries the
// bytes in "file" and an optional "alt" text for image attachments.
func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
	// Bound the request body before parsing; the overhead covers the
	// multipart framing and form fields around the file itself.
	maxBody := s.cfg.Files.MaxUploadBytes() + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)

	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d byte limit", s.cfg.Files.MaxUploadBytes()))
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, `multipart field "file" is required`)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read upload failed")
		return
	}

	stored, err := s.files.Upload(r.Context(), files.Upload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Alt:         r.FormValue("alt"),
		Data:        data,
	})
	if err != nil {
		switch {
		case errors.Is(err, files.ErrEmpty):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, files.ErrTooLarge):
			s.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		default:
			s.logger.Error("upload failed", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "store upload failed")
		}
		return
	}
	s.writeJSON(w, http.StatusCreated, stored)
}

// serveFile handles GET /files/{uuid}. Optional max_width/max_height query
// parameters bound image dimensions via resize-on-demand.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "uuid")
	bounds, err := parseBounds(r.URL.Query())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f, err := s.files.Get(r.Context(), id, bounds)
	if err != nil {
		if errors.Is(err, files.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "file not found")
			return
		}
		s.logger.Error("serve file failed", zap.String("file_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "load file failed")
		return
	}

	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(f.Data); err != nil {
		s.logger.Debug("write file response failed", zap.Error(err))
	}
}

func parseBounds(q url.Values) (files.Bounds, error) {
	var bounds files.Bounds
	var err error
	if bounds.MaxWidth, err = boundParam(q, "max_width"); err != nil {
		return files.Bounds{}, err
	}
	if bounds.MaxHeight, err = boundParam(q, "max_height"); err != nil {
		return files.Bounds{}, err
	}
	return bounds, nil
}

func boundParam(q url.Values, name string) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return v, nil
}
