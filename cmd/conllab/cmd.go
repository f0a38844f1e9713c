package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/conllab/conllab/config"
	"github.com/conllab/conllab/internal"
	"github.com/conllab/conllab/pkg/models"
	"github.com/conllab/conllab/pkg/store/postgres"
	"github.com/conllab/conllab/pkg/tasks"
)

var (
	log *logrus.Logger

	cfgFile     string
	showVersion bool
	fixturePath string

	annotationType string
	serviceURL     string
	chunkSize      int
)

var cmd = &cobra.Command{
	Use:   "conllab",
	Short: "conllab stores CoNLL-U corpora and enriches them with machine-predicted annotations",
	Run:   func(cmd *cobra.Command, args []string) { run() },
}

var annotateCmd = &cobra.Command{
	Use:   "annotate",
	Short: "Queue annotation jobs for all sentences still pending a given annotation type",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			log.Fatalf("Error configuring conllab: %s", err)
		}
		config.SetLogLevel(cfg)
		appState := NewAppState(cfg)

		publisher := tasks.NewTaskPublisher(postgres.NewSQLConn(appState))
		count, err := tasks.PublishPendingSentences(
			context.Background(),
			appState,
			publisher,
			models.AnnotationType(annotationType),
			serviceURL,
			chunkSize,
		)
		if err != nil {
			log.Fatalf("Failed to queue annotation jobs: %v", err)
		}
		fmt.Printf("Queued %d sentences for %s.\n", count, annotationType)
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test utilities",
}

var createFixturesCmd = &cobra.Command{
	Use:   "create-fixtures",
	Short: "Create fixtures for testing",
	Run: func(cmd *cobra.Command, args []string) {
		fixtureCount, _ := cmd.Flags().GetInt("count")
		outputDir, _ := cmd.Flags().GetString("outputDir")
		postgres.GenerateFixtureData(fixtureCount, outputDir)
		fmt.Println("Fixtures created successfully.")
	},
}

var loadFixturesCmd = &cobra.Command{
	Use:   "load-fixtures",
	Short: "Load fixtures for testing",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			log.Fatalf("Error configuring conllab: %s", err)
		}
		appState := &models.AppState{
			Config: cfg,
		}
		db, err := postgres.NewPostgresConn(appState)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v\n", err)
		}
		err = postgres.LoadFixtures(context.Background(), db, fixturePath)
		if err != nil {
			log.Fatalf("Failed to load fixtures: %v\n", err)
		}
		fmt.Println("Fixtures loaded successfully.")
	},
}

var dumpJSONSchemaCmd = &cobra.Command{
	Use:     "json-schema",
	Short:   "Generates JSON Schema for conllab's configuration file",
	Example: "conllab json-schema > conllab_config_schema.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := config.JSONSchema()
		if err != nil {
			return err
		}
		fmt.Println(string(schema))
		return nil
	},
}

func init() {
	testCmd.AddCommand(createFixturesCmd)
	testCmd.AddCommand(loadFixturesCmd)
	cmd.AddCommand(testCmd)
	cmd.AddCommand(annotateCmd)
	cmd.AddCommand(dumpJSONSchemaCmd)

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default config.yaml)")
	cmd.PersistentFlags().BoolVarP(&showVersion, "version", "v", false, "print version number")

	annotateCmd.Flags().StringVarP(&annotationType, "type", "t", "", "annotation type, e.g. pos")
	annotateCmd.Flags().StringVarP(&serviceURL, "url", "u", "", "prediction service URL (defaults to the configured service)")
	annotateCmd.Flags().IntVar(&chunkSize, "chunk-size", tasks.DefaultPublishChunkSize, "sentences per queue message")
	_ = annotateCmd.MarkFlagRequired("type")

	createFixturesCmd.Flags().Int("count", 10, "Number of documents to generate")
	createFixturesCmd.Flags().String("outputDir", "./test_data", "Path to output fixtures")
	loadFixturesCmd.Flags().
		StringVarP(&fixturePath, "fixturePath", "f", "./test_data", "Path containing fixtures to load")
}

// Execute executes the root cobra command.
func Execute() {
	log = internal.GetLogger()
	log.SetLevel(logrus.InfoLevel)

	err := cmd.Execute()

	if err != nil {
		os.Exit(1)
	}
}
