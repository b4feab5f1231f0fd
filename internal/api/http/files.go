package http

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/filehub-dev/filehub/internal/file"
)

// downloadPath is the file_url target for a record.
func downloadPath(id string) string { return "/files/" + id + "/download" }

// GET /files?original_name=&extension=&min_size=&max_size=&start_date=&end_date=
func ListFilesHandler(svc *file.Service, publicURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, err := parseListOpts(r)
		if err != nil {
			var ve *file.ValidationError
			if errors.As(err, &ve) {
				writeFieldErrors(w, http.StatusBadRequest, ve.Field, ve.Msg)
				return
			}
			writeDetail(w, http.StatusBadRequest, err.Error())
			return
		}
		list, err := svc.List(r.Context(), opts)
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, "list failed")
			return
		}
		for i := range list {
			list[i].FileURL = publicURL + downloadPath(list[i].ID)
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func parseListOpts(r *http.Request) (file.ListOpts, error) {
	q := r.URL.Query()
	opts := file.ListOpts{
		NameContains: strings.TrimSpace(q.Get("original_name")),
		Extension:    strings.TrimSpace(q.Get("extension")),
		ContentType:  strings.TrimSpace(q.Get("content_type")),
	}
	var err error
	if opts.MinSize, err = parseSize(q.Get("min_size"), "min_size"); err != nil {
		return file.ListOpts{}, err
	}
	if opts.MaxSize, err = parseSize(q.Get("max_size"), "max_size"); err != nil {
		return file.ListOpts{}, err
	}
	if opts.StartDate, err = parseDate(q.Get("start_date"), "start_date"); err != nil {
		return file.ListOpts{}, err
	}
	if opts.EndDate, err = parseDate(q.Get("end_date"), "end_date"); err != nil {
		return file.ListOpts{}, err
	}
	return opts, nil
}

func parseSize(v, field string) (*int64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return nil, &file.ValidationError{Field: field, Msg: "must be a non-negative integer"}
	}
	return &n, nil
}

func parseDate(v, field string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", v, time.UTC)
	if err != nil {
		return nil, &file.ValidationError{Field: field, Msg: "must be a date in YYYY-MM-DD form"}
	}
	return &t, nil
}

// POST /files with multipart form field "file"
func UploadFileHandler(svc *file.Service, publicURL string, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if maxBytes > 0 {
			// slack over the content cap covers multipart framing; the
			// exact byte cap is enforced while hashing
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
		}

		src, hdr, err := r.FormFile("file")
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				writeFieldErrors(w, http.StatusBadRequest, "file",
					fmt.Sprintf("file exceeds maximum upload size of %d bytes", maxBytes))
				return
			}
			writeDetail(w, http.StatusBadRequest, "multipart field 'file' required")
			return
		}
		defer src.Close()

		ct := hdr.Header.Get("Content-Type")
		if ct == "" {
			ct = "application/octet-stream"
		}

		rec, err := svc.Upload(r.Context(), hdr.Filename, ct, src)
		if err != nil {
			var ve *file.ValidationError
			switch {
			case errors.As(err, &ve):
				writeFieldErrors(w, http.StatusBadRequest, ve.Field, ve.Msg)
			default:
				writeDetail(w, http.StatusInternalServerError, "upload failed")
			}
			return
		}
		rec.FileURL = publicURL + downloadPath(rec.ID)
		writeJSON(w, http.StatusCreated, rec)
	}
}

// DELETE /files/{fileID}
func DeleteFileHandler(svc *file.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "fileID")
		if err := svc.Delete(r.Context(), id); err != nil {
			if errors.Is(err, file.ErrNotFound) {
				writeDetail(w, http.StatusNotFound, "not found")
				return
			}
			writeDetail(w, http.StatusInternalServerError, "delete failed")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /files/{fileID}/download
func DownloadFileHandler(svc *file.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "fileID")
		rec, rc, err := svc.Open(r.Context(), id)
		if err != nil {
			if errors.Is(err, file.ErrNotFound) {
				writeDetail(w, http.StatusNotFound, "not found")
				return
			}
			writeDetail(w, http.StatusInternalServerError, "read failed")
			return
		}
		defer rc.Close()

		w.Header().Set("Content-Type", rec.ContentType)
		w.Header().Set("Content-Length", strconv.FormatInt(rec.Size, 10))
		w.Header().Set("Content-Disposition",
			mime.FormatMediaType("attachment", map[string]string{"filename": rec.OriginalName}))
		_, _ = io.Copy(w, rc)
	}
}
