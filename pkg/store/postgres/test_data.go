package postgres

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dbfixture"
	"gopkg.in/yaml.v3"

	"github.com/conllab/conllab/pkg/models"
)

type Row interface {
	DocumentSchema | SentenceSchema | TokenSchema
}

type FixtureModel[T Row] struct {
	Model string `yaml:"model"`
	Rows  []T    `yaml:"rows"`
}

type Fixtures[T Row] []FixtureModel[T]

// GenerateFixtureData generates documents with sentences and tokens and
// writes them as dbfixture YAML files.
func GenerateFixtureData(documentCount int, outputDir string) {
	fakerGlobal := gofakeit.NewUnlocked(0)
	gofakeit.SetGlobalFaker(fakerGlobal)

	var documents []DocumentSchema
	var sentences []SentenceSchema
	var tokens []TokenSchema

	for i := 0; i < documentCount; i++ {
		doc := DocumentSchema{
			UUID: uuid.New(),
			Name: fmt.Sprintf("%s-%d.conllu", strings.ToLower(gofakeit.Word()), i),
		}
		documents = append(documents, doc)

		sentenceCount := gofakeit.Number(3, 12)
		for s := 0; s < sentenceCount; s++ {
			text := gofakeit.Sentence(gofakeit.Number(4, 12))
			sentence := SentenceSchema{
				UUID:         uuid.New(),
				DocumentUUID: doc.UUID,
				Ord:          s,
				SentID:       fmt.Sprintf("%s-s%d", doc.Name, s+1),
				Text:         text,
			}
			sentences = append(sentences, sentence)

			words := strings.Fields(strings.TrimSuffix(text, "."))
			for t, word := range words {
				tokens = append(tokens, TokenSchema{
					UUID:         uuid.New(),
					SentenceUUID: sentence.UUID,
					Ord:          t,
					CID:          fmt.Sprintf("%d", t+1),
					Type:         string(models.TokenPlain),
					Form:         word,
				})
			}
		}
	}

	documentFixture := Fixtures[DocumentSchema]{
		{
			Model: "DocumentSchema",
			Rows:  documents,
		},
	}

	sentenceFixture := Fixtures[SentenceSchema]{
		{
			Model: "SentenceSchema",
			Rows:  sentences,
		},
	}

	tokenFixture := Fixtures[TokenSchema]{
		{
			Model: "TokenSchema",
			Rows:  tokens,
		},
	}

	if outputDir == "" {
		outputDir = "./"
	} else {
		// Create output directory if it doesn't exist
		if _, err := os.Stat(outputDir); os.IsNotExist(err) {
			err = os.Mkdir(outputDir, 0755)
			if err != nil {
				fmt.Printf("unable to create %s: %v", outputDir, err)
				return
			}
		}
	}

	// Write fixtures to YAML files
	writeFixtureToYAML(documentFixture, outputDir, "document_fixtures.yaml")
	writeFixtureToYAML(sentenceFixture, outputDir, "sentence_fixtures.yaml")
	writeFixtureToYAML(tokenFixture, outputDir, "token_fixtures.yaml")
}

func writeFixtureToYAML[T Row](fixtures Fixtures[T], outputDir, filename string) {
	// Marshal the fixture into YAML
	data, err := yaml.Marshal(&fixtures)
	if err != nil {
		fmt.Printf("error: %v", err)
		return
	}

	// Write the YAML data to a file
	file, err := os.Create(filepath.Join(outputDir, filename))
	if err != nil {
		fmt.Printf("error: %v", err)
		return
	}
	defer func(file *os.File) {
		err := file.Close()
		if err != nil {
			fmt.Printf("error: %v", err)
			return
		}
	}(file)

	_, err = file.Write(data)
	if err != nil {
		fmt.Printf("error: %v", err)
		return
	}

	fmt.Printf("Fixtures generated successfully in %s!\n", filename)
}

// LoadFixtures drops and recreates the schema, then loads all fixture YAML
// files found in fixturePath.
func LoadFixtures(
	ctx context.Context,
	db *bun.DB,
	fixturePath string,
) error {
	dropSchemaQuery := `DROP SCHEMA public CASCADE;
CREATE SCHEMA public;
GRANT ALL ON SCHEMA public TO postgres;
GRANT ALL ON SCHEMA public TO public;`

	_, err := db.ExecContext(ctx, dropSchemaQuery)
	if err != nil {
		return fmt.Errorf("failed to drop schema: %w", err)
	}

	err = CreateSchema(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	db.RegisterModel(
		(*DocumentSchema)(nil),
		(*SentenceSchema)(nil),
		(*TokenSchema)(nil),
		(*SentenceAnnotationSchema)(nil),
		(*TokenFactSchema)(nil),
	)

	fixture := dbfixture.New(db)

	files, err := os.ReadDir(fixturePath)
	if err != nil {
		return fmt.Errorf("failed to read fixture directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".yaml") {
			continue
		}
		if err := fixture.Load(ctx, os.DirFS(fixturePath), file.Name()); err != nil {
			return fmt.Errorf("failed to load fixture %s: %w", file.Name(), err)
		}
	}

	return nil
}
