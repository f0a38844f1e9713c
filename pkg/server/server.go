package server

import (
	"fmt"
	"net/http"
	"time"

	httpLogger "github.com/chi-middleware/logrus-logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conllab/conllab/internal"
	"github.com/conllab/conllab/pkg/models"
)

var log = internal.GetLogger()

const ReadHeaderTimeout = 5 * time.Second

// Create creates the ops HTTP server: health, metrics and pipeline
// progress. The corpus editing API is served elsewhere; nothing here
// mutates the store.
func Create(appState *models.AppState) *http.Server {
	router := setupRouter(appState)
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", appState.Config.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: ReadHeaderTimeout,
	}
}

func setupRouter(appState *models.AppState) *chi.Mux {
	router := chi.NewRouter()
	router.Use(httpLogger.Logger("router", log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Heartbeat("/healthz"))

	router.Handle("/metrics", promhttp.Handler())
	router.Get("/v1/pending/{annotationType}", handlePendingCount(appState))

	return router
}

// handlePendingCount reports how many sentences still await the annotation
// type. The count is advisory: jobs may complete while it is being read.
func handlePendingCount(appState *models.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		at := models.AnnotationType(chi.URLParam(r, "annotationType"))

		pending, err := appState.CorpusStore.PendingSentences(r.Context(), at)
		if err != nil {
			log.Errorf("failed to enumerate pending sentences: %v", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"annotation_type":%q,"pending":%d}`, at, len(pending))
	}
}
