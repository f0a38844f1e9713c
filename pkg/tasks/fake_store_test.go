package tasks

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/conllab/conllab/pkg/models"
)

var _ models.CorpusStore = &fakeCorpusStore{}

// fakeCorpusStore is an in-memory CorpusStore for pipeline tests.
type fakeCorpusStore struct {
	mu        sync.Mutex
	documents map[uuid.UUID]*models.Document
	sentences map[uuid.UUID]*models.Sentence
	// facts maps token UUID → fact key → distribution.
	facts     map[uuid.UUID]map[string]models.ProbDistribution
	completed map[models.AnnotationType]map[uuid.UUID]bool

	putCalls       int
	failPuts       bool
	statsRefreshes []uuid.UUID
}

func newFakeCorpusStore() *fakeCorpusStore {
	return &fakeCorpusStore{
		documents: make(map[uuid.UUID]*models.Document),
		sentences: make(map[uuid.UUID]*models.Sentence),
		facts:     make(map[uuid.UUID]map[string]models.ProbDistribution),
		completed: make(map[models.AnnotationType]map[uuid.UUID]bool),
	}
}

func (f *fakeCorpusStore) addDocument(doc *models.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents[doc.UUID] = doc
	for i := range doc.Sentences {
		s := doc.Sentences[i]
		f.sentences[s.UUID] = &s
	}
}

func (f *fakeCorpusStore) deleteSentence(sentenceUUID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sentences, sentenceUUID)
}

func (f *fakeCorpusStore) GetDocument(
	_ context.Context,
	documentUUID uuid.UUID,
) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[documentUUID]
	if !ok {
		return nil, models.NewNotFoundError("document " + documentUUID.String())
	}
	return doc, nil
}

func (f *fakeCorpusStore) GetSentence(
	_ context.Context,
	sentenceUUID uuid.UUID,
) (*models.Sentence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sentences[sentenceUUID]
	if !ok {
		return nil, models.NewNotFoundError("sentence " + sentenceUUID.String())
	}
	return s, nil
}

func (f *fakeCorpusStore) GetSentenceDocument(
	_ context.Context,
	sentenceUUID uuid.UUID,
) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sentences[sentenceUUID]
	if !ok {
		return uuid.Nil, models.NewNotFoundError("sentence " + sentenceUUID.String())
	}
	return s.DocumentUUID, nil
}

func (f *fakeCorpusStore) PendingSentences(
	_ context.Context,
	at models.AnnotationType,
) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []uuid.UUID
	for id := range f.sentences {
		if !f.completed[at][id] {
			pending = append(pending, id)
		}
	}
	return pending, nil
}

func (f *fakeCorpusStore) PutDistributions(
	_ context.Context,
	at models.AnnotationType,
	sentence *models.Sentence,
	distributions []models.ProbDistribution,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	if f.failPuts {
		return models.NewStorageError("transaction rejected", nil)
	}
	eligible := models.EligibleTokens(at, sentence.Tokens)
	if len(eligible) != len(distributions) {
		return models.NewStorageError("distribution count mismatch", nil)
	}
	for i := range eligible {
		if f.facts[eligible[i].UUID] == nil {
			f.facts[eligible[i].UUID] = make(map[string]models.ProbDistribution)
		}
		f.facts[eligible[i].UUID][at.FactKey()] = distributions[i]
	}
	return nil
}

func (f *fakeCorpusStore) MarkComplete(
	_ context.Context,
	at models.AnnotationType,
	sentenceUUID uuid.UUID,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sentences[sentenceUUID]; !ok {
		return nil
	}
	if f.completed[at] == nil {
		f.completed[at] = make(map[uuid.UUID]bool)
	}
	f.completed[at][sentenceUUID] = true
	return nil
}

func (f *fakeCorpusStore) RefreshDocumentStats(
	_ context.Context,
	documentUUID uuid.UUID,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsRefreshes = append(f.statsRefreshes, documentUUID)
	return nil
}

func (f *fakeCorpusStore) CreateDocument(_ context.Context, doc *models.Document) error {
	f.addDocument(doc)
	return nil
}

func (f *fakeCorpusStore) DeleteSentence(_ context.Context, sentenceUUID uuid.UUID) error {
	f.deleteSentence(sentenceUUID)
	return nil
}

func (f *fakeCorpusStore) Close() error {
	return nil
}

func (f *fakeCorpusStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putCalls
}

func (f *fakeCorpusStore) factFor(tokenUUID uuid.UUID, key string) (models.ProbDistribution, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dist, ok := f.facts[tokenUUID][key]
	return dist, ok
}

func (f *fakeCorpusStore) isComplete(at models.AnnotationType, sentenceUUID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed[at][sentenceUUID]
}
