package tasks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conllab/conllab/config"
	"github.com/conllab/conllab/pkg/models"
	"github.com/conllab/conllab/pkg/testutils"
)

func newTestAppState(store models.CorpusStore) *models.AppState {
	return &models.AppState{
		CorpusStore: store,
		Config: &config.Config{
			Annotate: config.AnnotateConfig{
				RetryWaitMS:        1,
				HTTPTimeoutSeconds: 5,
			},
		},
	}
}

// sleepRecorder replaces the predictor's retry wait so tests don't block.
type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(d time.Duration) {
	s.waits = append(s.waits, d)
}

func newTestPredictor(
	appState *models.AppState,
	at models.AnnotationType,
	serviceURL string,
) (*HTTPPredictor, *sleepRecorder) {
	recorder := &sleepRecorder{}
	p := NewHTTPPredictor(appState, at, serviceURL)
	p.sleep = recorder.sleep
	return p, recorder
}

func TestPredictSentence_Success(t *testing.T) {
	store := newFakeCorpusStore()
	doc := &models.Document{UUID: uuid.New(), Name: "test-doc"}
	sentenceUUID := uuid.New()
	mk := func(ord int, cid string, typ models.TokenType, form string) models.Token {
		return models.Token{
			UUID:         uuid.New(),
			SentenceUUID: sentenceUUID,
			Ord:          ord,
			CID:          cid,
			Type:         typ,
			Form:         form,
		}
	}
	sentence := models.Sentence{
		UUID:         sentenceUUID,
		DocumentUUID: doc.UUID,
		SentID:       "d1-s1",
		Text:         "le chat dort",
		Tokens: []models.Token{
			mk(0, "1-2", models.TokenSuper, "lechat"),
			mk(1, "1", models.TokenPlain, "le"),
			mk(2, "2", models.TokenPlain, "chat"),
			mk(3, "3", models.TokenPlain, "dort"),
		},
	}
	doc.Sentences = []models.Sentence{sentence}
	store.addDocument(doc)

	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)

		require.NoError(t, r.ParseForm())
		assert.Contains(t, r.PostForm.Get("conllu"), "le chat dort")
		assert.Contains(t, r.PostForm.Get("full_conllu"), "le chat dort")

		var posted models.Sentence
		require.NoError(t, json.Unmarshal([]byte(r.PostForm.Get("json")), &posted))
		assert.Equal(t, sentenceUUID, posted.UUID)

		_, _ = w.Write([]byte(
			`{"probabilities": [[["NOUN",0.9],["VERB",0.1]], [["DET",0.99]], [["NOUN",0.8]]]}`,
		))
	}))
	defer srv.Close()

	appState := newTestAppState(store)
	p, recorder := newTestPredictor(appState, "pos", srv.URL)

	err := p.PredictSentence(context.Background(), sentenceUUID)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
	assert.Empty(t, recorder.waits)
	assert.Equal(t, 1, store.writeCount())

	// The supertoken gets no fact; the three plain tokens do, positionally.
	_, ok := store.factFor(sentence.Tokens[0].UUID, "pos/probas")
	assert.False(t, ok)

	dist, ok := store.factFor(sentence.Tokens[1].UUID, "pos/probas")
	require.True(t, ok)
	require.Len(t, dist, 2)
	assert.Equal(t, "NOUN", dist[0].Label)
	assert.Equal(t, 0.9, dist[0].Probability)

	dist, ok = store.factFor(sentence.Tokens[2].UUID, "pos/probas")
	require.True(t, ok)
	require.Len(t, dist, 1)
	assert.Equal(t, "DET", dist[0].Label)

	dist, ok = store.factFor(sentence.Tokens[3].UUID, "pos/probas")
	require.True(t, ok)
	assert.Equal(t, "NOUN", dist[0].Label)
}

func TestPredictSentence_RetriesTransportFailure(t *testing.T) {
	store, sentence := newStoreWithSentence(t)

	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			http.Error(w, "temporarily down", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(probasBody(t, 5))
	}))
	defer srv.Close()

	appState := newTestAppState(store)
	p, recorder := newTestPredictor(appState, "pos", srv.URL)

	err := p.PredictSentence(context.Background(), sentence.UUID)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
	require.Len(t, recorder.waits, 1)
	assert.Equal(t, time.Millisecond, recorder.waits[0])
	// The failed attempt must not have written anything.
	assert.Equal(t, 1, store.writeCount())
}

func TestPredictSentence_RetriesBadData(t *testing.T) {
	store, sentence := newStoreWithSentence(t)

	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			// One distribution short.
			_, _ = w.Write(probasBody(t, 4))
			return
		}
		_, _ = w.Write(probasBody(t, 5))
	}))
	defer srv.Close()

	appState := newTestAppState(store)
	p, recorder := newTestPredictor(appState, "pos", srv.URL)

	err := p.PredictSentence(context.Background(), sentence.UUID)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
	assert.Len(t, recorder.waits, 1)
	assert.Equal(t, 1, store.writeCount())
}

func TestPredictSentence_GoneBeforeDispatch(t *testing.T) {
	store, sentence := newStoreWithSentence(t)
	store.deleteSentence(sentence.UUID)

	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
	}))
	defer srv.Close()

	appState := newTestAppState(store)
	p, recorder := newTestPredictor(appState, "pos", srv.URL)

	err := p.PredictSentence(context.Background(), sentence.UUID)
	require.NoError(t, err)

	assert.Equal(t, int32(0), atomic.LoadInt32(&requests))
	assert.Empty(t, recorder.waits)
	assert.Equal(t, 0, store.writeCount())
}

func TestPredictSentence_GoneDuringJob(t *testing.T) {
	store, sentence := newStoreWithSentence(t)

	// The sentence is deleted while the service is processing the request,
	// so validation re-fetches and finds it gone. No write, no retry.
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		store.deleteSentence(sentence.UUID)
		_, _ = w.Write(probasBody(t, 5))
	}))
	defer srv.Close()

	appState := newTestAppState(store)
	p, recorder := newTestPredictor(appState, "pos", srv.URL)

	err := p.PredictSentence(context.Background(), sentence.UUID)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
	assert.Empty(t, recorder.waits)
	assert.Equal(t, 0, store.writeCount())
}

func TestPredictSentence_PersistFailureEscalates(t *testing.T) {
	store, sentence := newStoreWithSentence(t)
	store.failPuts = true

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(probasBody(t, 5))
	}))
	defer srv.Close()

	appState := newTestAppState(store)
	p, _ := newTestPredictor(appState, "pos", srv.URL)

	err := p.PredictSentence(context.Background(), sentence.UUID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to persist")
	assert.Equal(t, persistRetryAttempts, store.writeCount())
}

func TestPredictSentence_ContextCancelled(t *testing.T) {
	store, sentence := newStoreWithSentence(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Always one short, so the loop would retry forever.
		_, _ = w.Write(probasBody(t, 4))
	}))
	defer srv.Close()

	appState := newTestAppState(store)
	p, _ := newTestPredictor(appState, "pos", srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.PredictSentence(ctx, sentence.UUID)
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("PredictSentence did not stop after context cancellation")
	}
	assert.Equal(t, 0, store.writeCount())
}
