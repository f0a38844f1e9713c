package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/conllab/conllab/pkg/conllu"
	"github.com/conllab/conllab/pkg/metrics"
	"github.com/conllab/conllab/pkg/models"
)

// jobState drives the dispatch loop. A job moves Dispatching → Validating
// on a 2xx reply, to Retrying on any transport or data failure, and to
// Done on success or when the sentence is gone.
type jobState int

const (
	stateDispatching jobState = iota
	stateValidating
	stateRetrying
	stateDone
)

const (
	retryCauseTransport = "transport"
	retryCauseBadData   = "bad_data"
)

// Store write retry envelope; a write that still fails afterwards is
// escalated to the caller.
const (
	persistRetryAttempts = 3
	persistRetryDelay    = time.Second
)

var _ models.Predictor = &HTTPPredictor{}

// HTTPPredictor runs annotation jobs against one HTTP prediction service.
// It retries indefinitely with a fixed wait on transport and data
// failures; the wait is process configuration, not per-call backoff, which
// suits a human-monitored batch pipeline where the operator fixes the
// service and the loop self-heals.
type HTTPPredictor struct {
	appState   *models.AppState
	at         models.AnnotationType
	serviceURL string
	client     *http.Client
	retryWait  time.Duration
	sleep      func(time.Duration)
}

func NewHTTPPredictor(
	appState *models.AppState,
	at models.AnnotationType,
	serviceURL string,
) *HTTPPredictor {
	cfg := appState.Config.Annotate
	return &HTTPPredictor{
		appState:   appState,
		at:         at,
		serviceURL: serviceURL,
		client: NewRetryableHTTPClient(
			0, // the dispatch loop owns retries
			time.Duration(cfg.HTTPTimeoutSeconds)*time.Second,
		),
		retryWait: time.Duration(cfg.RetryWaitMS) * time.Millisecond,
		sleep:     time.Sleep,
	}
}

func (p *HTTPPredictor) AnnotationType() models.AnnotationType {
	return p.at
}

// PredictSentence runs one job to completion. It returns nil once the
// distributions are persisted or the sentence turned out to be gone; the
// only error path is a store write failure that survived its retry
// envelope.
func (p *HTTPPredictor) PredictSentence(ctx context.Context, sentenceUUID uuid.UUID) error {
	state := stateDispatching
	var body []byte
	var retryCause string

	for state != stateDone {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch state {
		case stateDispatching:
			respBody, err := p.dispatch(ctx, sentenceUUID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					log.Infof(
						"sentence %s gone before dispatch; %s job complete",
						sentenceUUID, p.at,
					)
					state = stateDone
					continue
				}
				log.Errorf(
					"%s dispatch for sentence %s failed: %v",
					p.at, sentenceUUID, err,
				)
				retryCause = retryCauseTransport
				state = stateRetrying
				continue
			}
			body = respBody
			state = stateValidating

		case stateValidating:
			result := ValidateResponse(ctx, p.appState.CorpusStore, p.at, sentenceUUID, body)
			switch result.Status {
			case models.ValidationGone:
				log.Infof(
					"sentence %s deleted during %s job; nothing to write",
					sentenceUUID, p.at,
				)
				state = stateDone
			case models.ValidationBadData:
				log.Warnf(
					"%s response for sentence %s rejected: %s",
					p.at, sentenceUUID, result.Reason,
				)
				metrics.ValidationFailures.WithLabelValues(string(p.at)).Inc()
				retryCause = retryCauseBadData
				state = stateRetrying
			case models.ValidationOK:
				if err := p.persist(ctx, result); err != nil {
					return fmt.Errorf(
						"failed to persist %s distributions for sentence %s: %w",
						p.at, sentenceUUID, err,
					)
				}
				state = stateDone
			}

		case stateRetrying:
			metrics.JobRetries.WithLabelValues(string(p.at), retryCause).Inc()
			log.Infof(
				"retrying %s job for sentence %s in %s",
				p.at, sentenceUUID, p.retryWait,
			)
			p.sleep(p.retryWait)
			state = stateDispatching
		}
	}

	return nil
}

// dispatch rebuilds the request payload from the store and posts it to the
// prediction service. The payload is rebuilt on every attempt so retries
// pick up concurrent edits. A non-2xx status is a transport failure.
func (p *HTTPPredictor) dispatch(ctx context.Context, sentenceUUID uuid.UUID) ([]byte, error) {
	store := p.appState.CorpusStore

	sentence, err := store.GetSentence(ctx, sentenceUUID)
	if err != nil {
		return nil, err
	}
	document, err := store.GetDocument(ctx, sentence.DocumentUUID)
	if err != nil {
		return nil, err
	}

	sentenceJSON, err := json.Marshal(sentence)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sentence record: %w", err)
	}

	form := url.Values{
		"conllu":      {conllu.RenderSentence(sentence)},
		"json":        {string(sentenceJSON)},
		"full_conllu": {conllu.RenderDocument(document)},
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		p.serviceURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read prediction response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("prediction service returned status %d", resp.StatusCode)
	}

	return respBody, nil
}

// persist writes the validated distributions in one transaction, retrying
// transient store failures a few times before escalating.
func (p *HTTPPredictor) persist(ctx context.Context, result models.ValidationResult) error {
	return retry.Do(
		func() error {
			return p.appState.CorpusStore.PutDistributions(
				ctx,
				p.at,
				result.Sentence,
				result.Distributions,
			)
		},
		retry.Attempts(persistRetryAttempts),
		retry.Delay(persistRetryDelay),
		retry.Context(ctx),
	)
}
