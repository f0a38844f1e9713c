package models

import (
	"context"

	"github.com/google/uuid"
)

// Predictor runs one annotation job for a sentence: contact the prediction
// service, validate its reply and persist the resulting distributions. A
// Predictor is bound to one annotation type and one service. The HTTP
// implementation lives in pkg/tasks; tests substitute fakes.
type Predictor interface {
	PredictSentence(ctx context.Context, sentenceUUID uuid.UUID) error
	AnnotationType() AnnotationType
}
