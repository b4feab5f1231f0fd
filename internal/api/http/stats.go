package http

import (
	"net/http"

	"github.com/filehub-dev/filehub/internal/file"
)

// GET /storage-stats
func StorageStatsHandler(svc *file.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.Stats(r.Context())
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, "stats failed")
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}
