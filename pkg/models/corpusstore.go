package models

import (
	"context"

	"github.com/google/uuid"
)

// CorpusStore is the document/sentence/token store consumed by the
// annotation pipeline. Implementations must provide transactional,
// all-or-nothing semantics for PutDistributions.
type CorpusStore interface {
	// GetDocument returns a document with its sentences and tokens loaded,
	// ordered by position. Returns ErrNotFound if the document is gone.
	GetDocument(ctx context.Context, documentUUID uuid.UUID) (*Document, error)
	// GetSentence returns a sentence with its tokens loaded in order.
	// Returns ErrNotFound if the sentence is gone.
	GetSentence(ctx context.Context, sentenceUUID uuid.UUID) (*Sentence, error)
	// GetSentenceDocument resolves a sentence's parent document UUID.
	GetSentenceDocument(ctx context.Context, sentenceUUID uuid.UUID) (uuid.UUID, error)
	// PendingSentences enumerates sentences that do not yet carry a
	// completion fact for the annotation type. The snapshot is advisory:
	// items may complete concurrently while the caller iterates.
	PendingSentences(ctx context.Context, at AnnotationType) ([]uuid.UUID, error)
	// PutDistributions writes one fact per eligible token, pairing tokens
	// and distributions positionally, in a single transaction. Re-applying
	// the same distributions is a no-op.
	PutDistributions(
		ctx context.Context,
		at AnnotationType,
		sentence *Sentence,
		distributions []ProbDistribution,
	) error
	// MarkComplete idempotently marks the sentence's job for the type done.
	// A vanished sentence is treated as done, not as an error.
	MarkComplete(ctx context.Context, at AnnotationType, sentenceUUID uuid.UUID) error
	// RefreshDocumentStats fully recomputes a document's derived statistics.
	RefreshDocumentStats(ctx context.Context, documentUUID uuid.UUID) error

	// CreateDocument persists a document together with its sentences and
	// tokens. Used by ingestion tooling and fixtures.
	CreateDocument(ctx context.Context, document *Document) error
	// DeleteSentence removes a sentence and its tokens. Deletion is driven
	// by the editing surface; the pipeline only observes its effects.
	DeleteSentence(ctx context.Context, sentenceUUID uuid.UUID) error

	Close() error
}
