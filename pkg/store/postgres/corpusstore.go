package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/conllab/conllab/internal"
	"github.com/conllab/conllab/pkg/models"
)

var log = internal.GetLogger()

// Force compiler to validate that PostgresCorpusStore implements the CorpusStore interface.
var _ models.CorpusStore = &PostgresCorpusStore{}

type PostgresCorpusStore struct {
	client   *bun.DB
	appState *models.AppState
}

// NewPostgresCorpusStore returns a new PostgresCorpusStore. Use this to correctly initialize the store.
func NewPostgresCorpusStore(
	appState *models.AppState,
	client *bun.DB,
) (*PostgresCorpusStore, error) {
	if appState == nil {
		return nil, models.NewStorageError("nil appState received", nil)
	}

	pcs := &PostgresCorpusStore{client: client, appState: appState}

	if err := CreateSchema(context.Background(), client); err != nil {
		return nil, models.NewStorageError("failed to ensure postgres schema setup", err)
	}

	return pcs, nil
}

func (pcs *PostgresCorpusStore) GetDocument(
	ctx context.Context,
	documentUUID uuid.UUID,
) (*models.Document, error) {
	doc := DocumentSchema{}
	err := pcs.client.NewSelect().
		Model(&doc).
		Where("d.uuid = ?", documentUUID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFoundError("document " + documentUUID.String())
		}
		return nil, models.NewStorageError("failed to get document", err)
	}

	var sentences []SentenceSchema
	err = pcs.client.NewSelect().
		Model(&sentences).
		Where("s.document_uuid = ?", documentUUID).
		Relation("Tokens", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("ord ASC")
		}).
		Order("s.ord ASC").
		Scan(ctx)
	if err != nil {
		return nil, models.NewStorageError("failed to get document sentences", err)
	}

	return documentSchemaToDocument(&doc, sentences), nil
}

func (pcs *PostgresCorpusStore) GetSentence(
	ctx context.Context,
	sentenceUUID uuid.UUID,
) (*models.Sentence, error) {
	sentence := SentenceSchema{}
	err := pcs.client.NewSelect().
		Model(&sentence).
		Where("s.uuid = ?", sentenceUUID).
		Relation("Tokens", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("ord ASC")
		}).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFoundError("sentence " + sentenceUUID.String())
		}
		return nil, models.NewStorageError("failed to get sentence", err)
	}

	return sentenceSchemaToSentence(&sentence), nil
}

func (pcs *PostgresCorpusStore) GetSentenceDocument(
	ctx context.Context,
	sentenceUUID uuid.UUID,
) (uuid.UUID, error) {
	var documentUUID uuid.UUID
	err := pcs.client.NewSelect().
		Model((*SentenceSchema)(nil)).
		Column("s.document_uuid").
		Where("s.uuid = ?", sentenceUUID).
		Scan(ctx, &documentUUID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, models.NewNotFoundError("sentence " + sentenceUUID.String())
		}
		return uuid.Nil, models.NewStorageError("failed to resolve sentence document", err)
	}

	return documentUUID, nil
}

// PendingSentences enumerates sentences without a completed annotation row
// for the given type, in stable insertion order. The result is an advisory
// snapshot; callers must tolerate items completing concurrently.
func (pcs *PostgresCorpusStore) PendingSentences(
	ctx context.Context,
	at models.AnnotationType,
) ([]uuid.UUID, error) {
	var uuids []uuid.UUID
	err := pcs.client.NewSelect().
		Model((*SentenceSchema)(nil)).
		Column("s.uuid").
		Join("LEFT JOIN sentence_annotation AS sa").
		JoinOn("sa.sentence_uuid = s.uuid").
		JoinOn("sa.type = ?", string(at)).
		Where("sa.uuid IS NULL OR sa.completed = false").
		Order("s.id ASC").
		Scan(ctx, &uuids)
	if err != nil {
		return nil, models.NewStorageError("failed to enumerate pending sentences", err)
	}

	return uuids, nil
}

// PutDistributions pairs each eligible token positionally with its
// distribution and writes one token fact per pair in a single transaction.
// Re-running with identical inputs upserts to the same rows.
func (pcs *PostgresCorpusStore) PutDistributions(
	ctx context.Context,
	at models.AnnotationType,
	sentence *models.Sentence,
	distributions []models.ProbDistribution,
) error {
	eligible := models.EligibleTokens(at, sentence.Tokens)
	if len(eligible) != len(distributions) {
		return models.NewStorageError(
			fmt.Sprintf(
				"distribution count %d does not match eligible token count %d",
				len(distributions),
				len(eligible),
			),
			nil,
		)
	}

	// Acquire a lock for this sentence. This guards against concurrent jobs
	// writing facts for the same sentence.
	lockRetryPolicy := retrypolicy.Builder[any]().
		HandleErrors(models.ErrLockAcquisitionFailed).
		WithBackoff(200*time.Millisecond, 10*time.Second).
		WithMaxRetries(7).
		Build()

	lockIDVal, err := failsafe.Get(func() (any, error) {
		return tryAcquireAdvisoryLock(ctx, pcs.client, sentence.UUID.String())
	}, lockRetryPolicy)
	if err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}

	lockID, ok := lockIDVal.(uint64)
	if !ok {
		return fmt.Errorf(
			"failed to acquire advisory lock: %w",
			models.ErrLockAcquisitionFailed,
		)
	}

	defer func(ctx context.Context, db bun.IDB, lockID uint64) {
		if err := releaseAdvisoryLock(ctx, db, lockID); err != nil {
			log.Errorf("failed to release advisory lock: %v", err)
		}
	}(ctx, pcs.client, lockID)

	key := at.FactKey()
	err = pcs.client.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for i := range eligible {
			fact := TokenFactSchema{
				TokenUUID: eligible[i].UUID,
				Key:       key,
				Value:     distributions[i],
			}
			_, err := tx.NewInsert().
				Model(&fact).
				On("CONFLICT (token_uuid, key) DO UPDATE").
				Set("value = EXCLUDED.value").
				Set("updated_at = current_timestamp").
				Exec(ctx)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.NewStorageError("failed to write token distributions", err)
	}

	return nil
}

// MarkComplete idempotently marks the sentence's job for the annotation type
// done. A sentence that no longer exists is treated as done so that
// concurrent deletion never leaves an orphaned job.
func (pcs *PostgresCorpusStore) MarkComplete(
	ctx context.Context,
	at models.AnnotationType,
	sentenceUUID uuid.UUID,
) error {
	exists, err := pcs.client.NewSelect().
		Model((*SentenceSchema)(nil)).
		Where("s.uuid = ?", sentenceUUID).
		Exists(ctx)
	if err != nil {
		return models.NewStorageError("failed to check sentence existence", err)
	}
	if !exists {
		log.Debugf("sentence %s gone; treating %s job as complete", sentenceUUID, at)
		return nil
	}

	annotation := SentenceAnnotationSchema{
		SentenceUUID: sentenceUUID,
		Type:         string(at),
		Completed:    true,
	}
	_, err = pcs.client.NewInsert().
		Model(&annotation).
		On("CONFLICT (sentence_uuid, type) DO UPDATE").
		Set("completed = true").
		Set("updated_at = current_timestamp").
		Exec(ctx)
	if err != nil {
		return models.NewStorageError("failed to mark annotation complete", err)
	}

	return nil
}

// RefreshDocumentStats recomputes a document's derived statistics from
// scratch. O(document size), accepted per completed sentence.
func (pcs *PostgresCorpusStore) RefreshDocumentStats(
	ctx context.Context,
	documentUUID uuid.UUID,
) error {
	sentenceCount, err := pcs.client.NewSelect().
		Model((*SentenceSchema)(nil)).
		Where("s.document_uuid = ?", documentUUID).
		Count(ctx)
	if err != nil {
		return models.NewStorageError("failed to count sentences", err)
	}

	tokenCount, err := pcs.client.NewSelect().
		Model((*TokenSchema)(nil)).
		Join("JOIN sentence AS s ON s.uuid = t.sentence_uuid").
		Where("s.document_uuid = ?", documentUUID).
		Count(ctx)
	if err != nil {
		return models.NewStorageError("failed to count tokens", err)
	}

	var completedRows []struct {
		Type  string `bun:"type"`
		Count int    `bun:"count"`
	}
	err = pcs.client.NewSelect().
		Model((*SentenceAnnotationSchema)(nil)).
		ColumnExpr("sa.type AS type").
		ColumnExpr("count(*) AS count").
		Join("JOIN sentence AS s ON s.uuid = sa.sentence_uuid").
		Where("s.document_uuid = ?", documentUUID).
		Where("sa.completed = true").
		GroupExpr("sa.type").
		Scan(ctx, &completedRows)
	if err != nil {
		return models.NewStorageError("failed to count completed annotations", err)
	}

	completed := make(map[string]int, len(completedRows))
	for _, row := range completedRows {
		completed[row.Type] = row.Count
	}

	stats := map[string]interface{}{
		"sentence_count": sentenceCount,
		"token_count":    tokenCount,
		"completed":      completed,
	}

	res, err := pcs.client.NewUpdate().
		Model(&DocumentSchema{}).
		Set("stats = ?", stats).
		Set("updated_at = current_timestamp").
		Where("uuid = ?", documentUUID).
		Exec(ctx)
	if err != nil {
		return models.NewStorageError("failed to update document stats", err)
	}
	rows, err := res.RowsAffected()
	if err == nil && rows == 0 {
		// Document deleted while the job was in flight. Nothing to refresh.
		log.Debugf("document %s gone; skipping stats refresh", documentUUID)
	}

	return nil
}

// CreateDocument persists a document with its sentences and tokens in one
// transaction. UUIDs are assigned client-side when unset so children can
// reference their parents.
func (pcs *PostgresCorpusStore) CreateDocument(
	ctx context.Context,
	document *models.Document,
) error {
	if document.UUID == uuid.Nil {
		document.UUID = uuid.New()
	}

	err := pcs.client.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		doc := DocumentSchema{
			UUID:  document.UUID,
			Name:  document.Name,
			Stats: document.Stats,
		}
		if _, err := tx.NewInsert().Model(&doc).Exec(ctx); err != nil {
			return err
		}

		for i := range document.Sentences {
			s := &document.Sentences[i]
			if s.UUID == uuid.Nil {
				s.UUID = uuid.New()
			}
			s.DocumentUUID = document.UUID
			sentence := SentenceSchema{
				UUID:         s.UUID,
				DocumentUUID: document.UUID,
				Ord:          s.Ord,
				SentID:       s.SentID,
				Text:         s.Text,
			}
			if _, err := tx.NewInsert().Model(&sentence).Exec(ctx); err != nil {
				return err
			}

			if len(s.Tokens) == 0 {
				continue
			}
			tokens := make([]TokenSchema, len(s.Tokens))
			for j := range s.Tokens {
				tok := &s.Tokens[j]
				if tok.UUID == uuid.Nil {
					tok.UUID = uuid.New()
				}
				tok.SentenceUUID = s.UUID
				tokens[j] = TokenSchema{
					UUID:         tok.UUID,
					SentenceUUID: s.UUID,
					Ord:          tok.Ord,
					CID:          tok.CID,
					Type:         string(tok.Type),
					Form:         tok.Form,
					Lemma:        tok.Lemma,
					UPOS:         tok.UPOS,
					XPOS:         tok.XPOS,
					Feats:        tok.Feats,
					Head:         tok.Head,
					Deprel:       tok.Deprel,
					Deps:         tok.Deps,
					Misc:         tok.Misc,
				}
			}
			if _, err := tx.NewInsert().Model(&tokens).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.NewStorageError("failed to create document", err)
	}

	return nil
}

// DeleteSentence removes a sentence; tokens, facts and annotation rows
// cascade via foreign keys.
func (pcs *PostgresCorpusStore) DeleteSentence(
	ctx context.Context,
	sentenceUUID uuid.UUID,
) error {
	_, err := pcs.client.NewDelete().
		Model((*SentenceSchema)(nil)).
		Where("uuid = ?", sentenceUUID).
		Exec(ctx)
	if err != nil {
		return models.NewStorageError("failed to delete sentence", err)
	}

	return nil
}

func (pcs *PostgresCorpusStore) Close() error {
	if pcs.client != nil {
		return pcs.client.Close()
	}
	return nil
}

func tokenSchemaToToken(t *TokenSchema) models.Token {
	return models.Token{
		UUID:         t.UUID,
		SentenceUUID: t.SentenceUUID,
		Ord:          t.Ord,
		CID:          t.CID,
		Type:         models.TokenType(t.Type),
		Form:         t.Form,
		Lemma:        t.Lemma,
		UPOS:         t.UPOS,
		XPOS:         t.XPOS,
		Feats:        t.Feats,
		Head:         t.Head,
		Deprel:       t.Deprel,
		Deps:         t.Deps,
		Misc:         t.Misc,
	}
}

func sentenceSchemaToSentence(s *SentenceSchema) *models.Sentence {
	tokens := make([]models.Token, len(s.Tokens))
	for i := range s.Tokens {
		tokens[i] = tokenSchemaToToken(&s.Tokens[i])
	}
	return &models.Sentence{
		UUID:         s.UUID,
		DocumentUUID: s.DocumentUUID,
		Ord:          s.Ord,
		SentID:       s.SentID,
		Text:         s.Text,
		Tokens:       tokens,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func documentSchemaToDocument(d *DocumentSchema, sentences []SentenceSchema) *models.Document {
	doc := &models.Document{
		UUID:      d.UUID,
		Name:      d.Name,
		Stats:     d.Stats,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
		Sentences: make([]models.Sentence, len(sentences)),
	}
	for i := range sentences {
		doc.Sentences[i] = *sentenceSchemaToSentence(&sentences[i])
	}
	return doc
}
