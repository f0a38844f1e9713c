package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/conllab/conllab/pkg/models"
)

var _ models.Task = &SentenceAnnotationTask{}

// SentenceAnnotationTask consumes queued annotation jobs. Each message
// carries the annotation type and service URL in its metadata and a list
// of sentence UUIDs as payload.
type SentenceAnnotationTask struct {
	BaseTask
}

func NewSentenceAnnotationTask(appState *models.AppState) *SentenceAnnotationTask {
	return &SentenceAnnotationTask{
		BaseTask: BaseTask{appState: appState},
	}
}

func (t *SentenceAnnotationTask) Execute(
	ctx context.Context,
	msg *message.Message,
) error {
	at := msg.Metadata.Get(models.TaskMetadataAnnotationType)
	if at == "" {
		return errors.New("SentenceAnnotationTask annotation_type is empty")
	}

	serviceURL, err := t.resolveServiceURL(at, msg)
	if err != nil {
		return err
	}

	log.Debugf("SentenceAnnotationTask called for annotation type %s", at)

	var sentenceTasks []models.SentenceTask
	if err := json.Unmarshal(msg.Payload, &sentenceTasks); err != nil {
		return fmt.Errorf("failed to unmarshal sentence task payload: %w", err)
	}

	predictor := NewHTTPPredictor(t.appState, models.AnnotationType(at), serviceURL)
	annotator := NewAnnotator(t.appState, predictor)

	for _, st := range sentenceTasks {
		if err := annotator.Predict(ctx, st.UUID); err != nil {
			return fmt.Errorf(
				"SentenceAnnotationTask failed for sentence %s: %w",
				st.UUID, err,
			)
		}
	}

	return nil
}

func (t *SentenceAnnotationTask) HandleError(err error) {
	log.Errorf("SentenceAnnotationTask error: %s", err)
}

// resolveServiceURL prefers the URL published with the message and falls
// back to the configured service for the annotation type.
func (t *SentenceAnnotationTask) resolveServiceURL(
	at string,
	msg *message.Message,
) (string, error) {
	if serviceURL := msg.Metadata.Get(models.TaskMetadataServiceURL); serviceURL != "" {
		return serviceURL, nil
	}

	svc, ok := t.appState.Config.Annotate.Services[at]
	if !ok || svc.URL == "" {
		return "", fmt.Errorf("no prediction service configured for annotation type %s", at)
	}
	return svc.URL, nil
}
