package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oiime/logrusbun"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"github.com/conllab/conllab/config"
	"github.com/conllab/conllab/pkg/models"
	"github.com/conllab/conllab/pkg/server"
	"github.com/conllab/conllab/pkg/store/postgres"
	"github.com/conllab/conllab/pkg/tasks"
)

const (
	ErrStoreTypeNotSet   = "store.type must be set"
	ErrPostgresDSNNotSet = "store.postgres.dsn must be set"
	StoreTypePostgres    = "postgres"
)

// run is the entrypoint for the conllab server
func run() {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		log.Fatalf("Error configuring conllab: %s", err)
	}

	handleCLIOptions()

	log.Infof("Starting conllab server version %s", config.VersionString)

	config.SetLogLevel(cfg)
	appState := NewAppState(cfg)

	ctx := context.Background()

	// Run the task router, which consumes queued annotation jobs.
	tasks.RunTaskRouter(ctx, appState, postgres.NewSQLConn(appState))

	srv := server.Create(appState)

	log.Infof("Listening on: %s", srv.Addr)
	err = srv.ListenAndServe()
	if err != nil {
		log.Fatal(err)
	}
}

// NewAppState creates an AppState struct from the config file / ENV and
// initializes the corpus store
func NewAppState(cfg *config.Config) *models.AppState {
	appState := &models.AppState{
		Config: cfg,
	}

	initializeCorpusStore(appState)
	setupSignalHandler(appState)

	return appState
}

// handleCLIOptions handles CLI options that don't require the server to run
func handleCLIOptions() {
	if showVersion {
		fmt.Println(config.VersionString)
		os.Exit(0)
	}
}

// initializeCorpusStore initializes the corpus store based on the config file / ENV
func initializeCorpusStore(appState *models.AppState) {
	if appState.Config.Store.Type == "" {
		log.Fatal(ErrStoreTypeNotSet)
	}

	switch appState.Config.Store.Type {
	case StoreTypePostgres:
		if appState.Config.Store.Postgres.DSN == "" {
			log.Fatal(ErrPostgresDSNNotSet)
		}
		db, err := postgres.NewPostgresConn(appState)
		if err != nil {
			log.Fatal(err)
		}
		if appState.Config.Log.Level == "debug" {
			pgDebugLogging(db)
		}
		corpusStore, err := postgres.NewPostgresCorpusStore(appState, db)
		if err != nil {
			log.Fatal(err)
		}
		appState.CorpusStore = corpusStore
	default:
		log.Fatal(
			fmt.Sprintf(
				"store.type (%s) is not supported",
				appState.Config.Store.Type,
			),
		)
	}

	log.Info("Using corpus store: ", appState.Config.Store.Type)
}

func pgDebugLogging(db *bun.DB) {
	db.AddQueryHook(logrusbun.NewQueryHook(logrusbun.QueryHookOptions{
		LogSlow:         time.Second,
		Logger:          log,
		QueryLevel:      logrus.DebugLevel,
		ErrorLevel:      logrus.ErrorLevel,
		SlowLevel:       logrus.WarnLevel,
		MessageTemplate: "{{.Operation}}[{{.Duration}}]: {{.Query}}",
		ErrorTemplate:   "{{.Operation}}[{{.Duration}}]: {{.Query}}: {{.Error}}",
	}))
}

// setupSignalHandler closes the store cleanly on SIGINT/SIGTERM. Jobs in
// flight are re-run from the pending queue on restart.
func setupSignalHandler(appState *models.AppState) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		log.Info("Shutting down")
		if appState.CorpusStore != nil {
			if err := appState.CorpusStore.Close(); err != nil {
				log.Errorf("Error closing corpus store: %v", err)
			}
		}
		os.Exit(0)
	}()
}
