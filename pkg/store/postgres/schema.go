package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/conllab/conllab/pkg/models"
)

type DocumentSchema struct {
	bun.BaseModel `bun:"table:document,alias:d" yaml:"-"`

	UUID      uuid.UUID              `bun:",pk,type:uuid,default:gen_random_uuid()"                     yaml:"uuid,omitempty"`
	ID        int64                  `bun:",autoincrement"                                              yaml:"id,omitempty"` // used as a cursor for ordering
	CreatedAt time.Time              `bun:"type:timestamptz,nullzero,notnull,default:current_timestamp" yaml:"created_at,omitempty"`
	UpdatedAt time.Time              `bun:"type:timestamptz,nullzero,notnull,default:current_timestamp" yaml:"updated_at,omitempty"`
	Name      string                 `bun:",notnull"                                                    yaml:"name,omitempty"`
	Stats     map[string]interface{} `bun:"type:jsonb,nullzero,json_use_number"                         yaml:"stats,omitempty"`
}

var _ bun.BeforeAppendModelHook = (*DocumentSchema)(nil)

func (s *DocumentSchema) BeforeAppendModel(_ context.Context, query bun.Query) error {
	if _, ok := query.(*bun.UpdateQuery); ok {
		s.UpdatedAt = time.Now()
	}
	return nil
}

type SentenceSchema struct {
	bun.BaseModel `bun:"table:sentence,alias:s" yaml:"-"`

	UUID         uuid.UUID       `bun:",pk,type:uuid,default:gen_random_uuid()"                     yaml:"uuid,omitempty"`
	ID           int64           `bun:",autoincrement"                                              yaml:"id,omitempty"`
	CreatedAt    time.Time       `bun:"type:timestamptz,nullzero,notnull,default:current_timestamp" yaml:"created_at,omitempty"`
	UpdatedAt    time.Time       `bun:"type:timestamptz,nullzero,notnull,default:current_timestamp" yaml:"updated_at,omitempty"`
	DocumentUUID uuid.UUID       `bun:"type:uuid,notnull"                                           yaml:"document_uuid,omitempty"`
	Ord          int             `bun:",notnull"                                                    yaml:"ord"`
	SentID       string          `bun:","                                                           yaml:"sent_id,omitempty"`
	Text         string          `bun:","                                                           yaml:"text,omitempty"`
	Document     *DocumentSchema `bun:"rel:belongs-to,join:document_uuid=uuid,on_delete:cascade"    yaml:"-"`
	Tokens       []TokenSchema   `bun:"rel:has-many,join:uuid=sentence_uuid"                        yaml:"-"`
}

var _ bun.BeforeAppendModelHook = (*SentenceSchema)(nil)

func (s *SentenceSchema) BeforeAppendModel(_ context.Context, query bun.Query) error {
	if _, ok := query.(*bun.UpdateQuery); ok {
		s.UpdatedAt = time.Now()
	}
	return nil
}

type TokenSchema struct {
	bun.BaseModel `bun:"table:token,alias:t" yaml:"-"`

	UUID         uuid.UUID       `bun:",pk,type:uuid,default:gen_random_uuid()"                     yaml:"uuid,omitempty"`
	ID           int64           `bun:",autoincrement"                                              yaml:"id,omitempty"`
	CreatedAt    time.Time       `bun:"type:timestamptz,nullzero,notnull,default:current_timestamp" yaml:"created_at,omitempty"`
	UpdatedAt    time.Time       `bun:"type:timestamptz,nullzero,notnull,default:current_timestamp" yaml:"updated_at,omitempty"`
	SentenceUUID uuid.UUID       `bun:"type:uuid,notnull"                                           yaml:"sentence_uuid,omitempty"`
	Ord          int             `bun:",notnull"                                                    yaml:"ord"`
	CID          string          `bun:"cid,notnull"                                                 yaml:"cid,omitempty"`
	Type         string          `bun:",notnull"                                                    yaml:"type,omitempty"`
	Form         string          `bun:",notnull"                                                    yaml:"form,omitempty"`
	Lemma        string          `bun:","                                                           yaml:"lemma,omitempty"`
	UPOS         string          `bun:"upos"                                                        yaml:"upos,omitempty"`
	XPOS         string          `bun:"xpos"                                                        yaml:"xpos,omitempty"`
	Feats        string          `bun:","                                                           yaml:"feats,omitempty"`
	Head         string          `bun:","                                                           yaml:"head,omitempty"`
	Deprel       string          `bun:","                                                           yaml:"deprel,omitempty"`
	Deps         string          `bun:","                                                           yaml:"deps,omitempty"`
	Misc         string          `bun:","                                                           yaml:"misc,omitempty"`
	Sentence     *SentenceSchema `bun:"rel:belongs-to,join:sentence_uuid=uuid,on_delete:cascade"    yaml:"-"`
}

var _ bun.BeforeAppendModelHook = (*TokenSchema)(nil)

func (s *TokenSchema) BeforeAppendModel(_ context.Context, query bun.Query) error {
	if _, ok := query.(*bun.UpdateQuery); ok {
		s.UpdatedAt = time.Now()
	}
	return nil
}

// SentenceAnnotationSchema tracks job completion per (sentence, annotation
// type). Rows are upserted; a completed row is never flipped back by the
// pipeline.
type SentenceAnnotationSchema struct {
	bun.BaseModel `bun:"table:sentence_annotation,alias:sa" yaml:"-"`

	UUID         uuid.UUID       `bun:",pk,type:uuid,default:gen_random_uuid()"                     yaml:"uuid,omitempty"`
	CreatedAt    time.Time       `bun:"type:timestamptz,nullzero,notnull,default:current_timestamp" yaml:"created_at,omitempty"`
	UpdatedAt    time.Time       `bun:"type:timestamptz,nullzero,notnull,default:current_timestamp" yaml:"updated_at,omitempty"`
	SentenceUUID uuid.UUID       `bun:"type:uuid,notnull,unique:sentence_annotation_sentence_type"  yaml:"sentence_uuid,omitempty"`
	Type         string          `bun:",notnull,unique:sentence_annotation_sentence_type"           yaml:"type,omitempty"`
	Completed    bool            `bun:"type:bool,notnull,default:false"                             yaml:"completed"`
	Sentence     *SentenceSchema `bun:"rel:belongs-to,join:sentence_uuid=uuid,on_delete:cascade"    yaml:"-"`
}

var _ bun.BeforeAppendModelHook = (*SentenceAnnotationSchema)(nil)

func (s *SentenceAnnotationSchema) BeforeAppendModel(_ context.Context, query bun.Query) error {
	if _, ok := query.(*bun.UpdateQuery); ok {
		s.UpdatedAt = time.Now()
	}
	return nil
}

// TokenFactSchema stores one token-scoped annotation fact, e.g. the
// probability distribution under "pos/probas".
type TokenFactSchema struct {
	bun.BaseModel `bun:"table:token_fact,alias:tf" yaml:"-"`

	UUID      uuid.UUID    `bun:",pk,type:uuid,default:gen_random_uuid()"                     yaml:"uuid,omitempty"`
	CreatedAt time.Time    `bun:"type:timestamptz,nullzero,notnull,default:current_timestamp" yaml:"created_at,omitempty"`
	UpdatedAt time.Time    `bun:"type:timestamptz,nullzero,notnull,default:current_timestamp" yaml:"updated_at,omitempty"`
	TokenUUID uuid.UUID    `bun:"type:uuid,notnull,unique:token_fact_token_key"               yaml:"token_uuid,omitempty"`
	Key       string       `bun:",notnull,unique:token_fact_token_key"                        yaml:"key,omitempty"`
	Value     interface{}  `bun:"type:jsonb,json_use_number"                                  yaml:"value,omitempty"`
	Token     *TokenSchema `bun:"rel:belongs-to,join:token_uuid=uuid,on_delete:cascade"       yaml:"-"`
}

var _ bun.BeforeAppendModelHook = (*TokenFactSchema)(nil)

func (s *TokenFactSchema) BeforeAppendModel(_ context.Context, query bun.Query) error {
	if _, ok := query.(*bun.UpdateQuery); ok {
		s.UpdatedAt = time.Now()
	}
	return nil
}

// tableList is ordered with foreign-keyed tables first; CreateSchema
// iterates in reverse so parents are created before children.
var tableList = []interface{}{
	&TokenFactSchema{},
	&SentenceAnnotationSchema{},
	&TokenSchema{},
	&SentenceSchema{},
	&DocumentSchema{},
}

// CreateSchema creates the corpus tables if they do not exist.
func CreateSchema(
	ctx context.Context,
	db *bun.DB,
) error {
	// iterate through tableList in reverse order to create parent tables first
	for i := len(tableList) - 1; i >= 0; i-- {
		schema := tableList[i]
		_, err := db.NewCreateTable().
			Model(schema).
			IfNotExists().
			WithForeignKeys().
			Exec(ctx)
		if err != nil {
			// bun still trying to create indexes despite IfNotExists flag
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("error creating table for schema %T: %w", schema, err)
		}
	}

	if err := createPendingIndex(ctx, db); err != nil {
		return fmt.Errorf("error creating pending-sentence index: %w", err)
	}

	return nil
}

// createPendingIndex backs the PendingSentences join.
func createPendingIndex(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateIndex().
		Model(&SentenceAnnotationSchema{}).
		Index("ix_sentence_annotation_type_completed").
		IfNotExists().
		Column("type", "completed").
		Exec(ctx)
	return err
}

// NewPostgresConn creates a new bun.DB connection to the corpus database.
func NewPostgresConn(appState *models.AppState) (*bun.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	maxOpenConns := 4 * runtime.GOMAXPROCS(0)

	sqldb := sql.OpenDB(
		pgdriver.NewConnector(
			pgdriver.WithDSN(appState.Config.Store.Postgres.DSN),
		),
	)
	sqldb.SetMaxOpenConns(maxOpenConns)
	sqldb.SetMaxIdleConns(maxOpenConns)

	db := bun.NewDB(sqldb, pgdialect.New())

	if err := checkPostgresVersion(ctx, db); err != nil {
		return nil, err
	}

	return db, nil
}

// NewSQLConn returns a plain database/sql connection for the task queue.
// Watermill's SQL subscriber is incompatible with bun's isolation level, so
// it gets its own connection.
func NewSQLConn(appState *models.AppState) *sql.DB {
	return sql.OpenDB(
		pgdriver.NewConnector(
			pgdriver.WithDSN(appState.Config.Store.Postgres.DSN),
		),
	)
}

// checkPostgresVersion ensures the server is at least Postgres 13. Older
// servers lack gen_random_uuid without the pgcrypto extension.
func checkPostgresVersion(ctx context.Context, db *bun.DB) error {
	const minVersion = "13.0.0"
	requiredVersion, err := semver.NewVersion(minVersion)
	if err != nil {
		return fmt.Errorf("error parsing required postgres version: %w", err)
	}

	var version string
	if err := db.QueryRowContext(ctx, "SHOW server_version").Scan(&version); err != nil {
		return fmt.Errorf("error querying postgres version: %w", err)
	}

	// server_version may carry a vendor suffix, e.g. "15.4 (Debian ...)"
	version = strings.Fields(version)[0]
	thisVersion, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("error parsing postgres version %q: %w", version, err)
	}

	if requiredVersion.GreaterThan(thisVersion) {
		return fmt.Errorf(
			"postgres version %s is older than required %s",
			thisVersion,
			minVersion,
		)
	}

	return nil
}
