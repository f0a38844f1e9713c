package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/conllab/conllab/pkg/metrics"
	"github.com/conllab/conllab/pkg/models"
)

// Annotator is the job driver: it runs one annotation job end-to-end for a
// sentence, marks it complete, refreshes the parent document's statistics
// and emits throughput telemetry.
type Annotator struct {
	appState  *models.AppState
	predictor models.Predictor
}

func NewAnnotator(appState *models.AppState, predictor models.Predictor) *Annotator {
	return &Annotator{
		appState:  appState,
		predictor: predictor,
	}
}

func (a *Annotator) Predict(ctx context.Context, sentenceUUID uuid.UUID) error {
	at := a.predictor.AnnotationType()
	store := a.appState.CorpusStore

	documentUUID, err := store.GetSentenceDocument(ctx, sentenceUUID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Deleted before any work started; the job is trivially
			// complete and no network call is issued.
			return store.MarkComplete(ctx, at, sentenceUUID)
		}
		return err
	}

	start := time.Now()
	if err := a.predictor.PredictSentence(ctx, sentenceUUID); err != nil {
		return err
	}
	elapsed := time.Since(start)

	if err := store.MarkComplete(ctx, at, sentenceUUID); err != nil {
		return err
	}
	if err := store.RefreshDocumentStats(ctx, documentUUID); err != nil {
		return err
	}

	metrics.JobsCompleted.WithLabelValues(string(at)).Inc()
	metrics.JobDuration.WithLabelValues(string(at)).Observe(elapsed.Seconds())

	// Single-sample projection; good enough for operator-facing progress
	// logs, not an SLA figure.
	remaining := -1
	pending, err := store.PendingSentences(ctx, at)
	if err != nil {
		log.Warnf("failed to count pending sentences for %s: %v", at, err)
	} else {
		remaining = len(pending)
	}

	fields := logrus.Fields{
		"annotation_type": at,
		"sentence_uuid":   sentenceUUID,
		"elapsed":         elapsed.Round(time.Millisecond).String(),
	}
	if remaining >= 0 {
		eta := time.Duration(remaining) * elapsed
		fields["pending"] = humanize.Comma(int64(remaining))
		fields["eta"] = eta.Round(time.Second).String()
	}
	log.WithFields(fields).Info("annotation job complete")

	return nil
}
