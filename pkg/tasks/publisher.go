package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	wla "github.com/ma-hartma/watermill-logrus-adapter"

	"github.com/conllab/conllab/pkg/models"
)

// DefaultPublishChunkSize bounds how many sentences ride in one queue
// message. Persistence is idempotent, so re-delivering a chunk is safe.
const DefaultPublishChunkSize = 10

var _ models.TaskPublisher = &TaskPublisher{}

type TaskPublisher struct {
	publisher message.Publisher
}

func NewTaskPublisher(db *sql.DB) *TaskPublisher {
	var wlog = wla.NewLogrusLogger(log)
	publisher, err := NewSQLQueuePublisher(db, wlog)
	if err != nil {
		log.Fatalf("Failed to create task publisher: %v", err)
	}
	return &TaskPublisher{
		publisher: publisher,
	}
}

func (t *TaskPublisher) Publish(taskType models.TaskTopic, metadata map[string]string, payload any) error {
	p, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	log.Debugf("Publishing message: %s", p)
	m := message.NewMessage(watermill.NewUUID(), p)
	m.Metadata = message.Metadata(metadata)

	err = t.publisher.Publish(string(taskType), m)
	if err != nil {
		return fmt.Errorf("failed to publish task message: %w", err)
	}

	return nil
}

func (t *TaskPublisher) Close() error {
	err := t.publisher.Close()
	if err != nil {
		return fmt.Errorf("failed to close task publisher: %w", err)
	}

	return nil
}

// PublishPendingSentences enumerates the sentences still awaiting the
// annotation type and publishes them to the annotation topic in chunks.
// Returns the number of sentences published.
func PublishPendingSentences(
	ctx context.Context,
	appState *models.AppState,
	publisher models.TaskPublisher,
	at models.AnnotationType,
	serviceURL string,
	chunkSize int,
) (int, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultPublishChunkSize
	}

	pending, err := appState.CorpusStore.PendingSentences(ctx, at)
	if err != nil {
		return 0, fmt.Errorf("failed to enumerate pending sentences: %w", err)
	}

	metadata := map[string]string{
		models.TaskMetadataAnnotationType: string(at),
	}
	if serviceURL != "" {
		metadata[models.TaskMetadataServiceURL] = serviceURL
	}

	for start := 0; start < len(pending); start += chunkSize {
		end := start + chunkSize
		if end > len(pending) {
			end = len(pending)
		}
		chunk := make([]models.SentenceTask, 0, end-start)
		for _, sentenceUUID := range pending[start:end] {
			chunk = append(chunk, models.SentenceTask{UUID: sentenceUUID})
		}
		if err := publisher.Publish(models.SentenceAnnotationTopic, metadata, chunk); err != nil {
			return start, err
		}
	}

	log.Infof("published %d pending sentences for %s", len(pending), at)

	return len(pending), nil
}
