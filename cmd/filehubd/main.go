package main

import (
	"context"
	"log"
	"net/http"
	"time"

	api "github.com/filehub-dev/filehub/internal/api/http"
	"github.com/filehub-dev/filehub/internal/audit"
	"github.com/filehub-dev/filehub/internal/config"
	"github.com/filehub-dev/filehub/internal/db"
	"github.com/filehub-dev/filehub/internal/file"
	"github.com/filehub-dev/filehub/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func main() {
	cfg := config.FromEnv()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}

	bs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}

	store := file.NewSQLStore(dbh, cfg.DBDriver)
	events := audit.NewEventRepo(dbh)
	svc := file.NewService(store, bs, events, cfg.MaxUploadBytes)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/files", func(fr chi.Router) {
		fr.Get("/", api.ListFilesHandler(svc, cfg.PublicURL))
		fr.Post("/", api.UploadFileHandler(svc, cfg.PublicURL, cfg.MaxUploadBytes))
		fr.Delete("/{fileID}", api.DeleteFileHandler(svc))
		fr.Get("/{fileID}/download", api.DownloadFileHandler(svc))
	})
	r.Get("/storage-stats", api.StorageStatsHandler(svc))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	log.Printf("listening on %s (db=%s, blobs=%s)", cfg.HTTPAddr, cfg.DBDriver, cfg.BlobBasePath)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}
