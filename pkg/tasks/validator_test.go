package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conllab/conllab/pkg/models"
	"github.com/conllab/conllab/pkg/testutils"
)

// probasBody builds a well-formed service response with count identical
// two-label distributions.
func probasBody(t *testing.T, count int) []byte {
	t.Helper()
	probas := make([][][]interface{}, count)
	for i := range probas {
		probas[i] = [][]interface{}{
			{"NOUN", 0.9},
			{"VERB", 0.1},
		}
	}
	body, err := json.Marshal(map[string]interface{}{"probabilities": probas})
	require.NoError(t, err)
	return body
}

func newStoreWithSentence(t *testing.T) (*fakeCorpusStore, *models.Sentence) {
	t.Helper()
	store := newFakeCorpusStore()
	doc := &models.Document{UUID: uuid.New(), Name: "test-doc"}
	sentence := testutils.NewTestSentence(doc.UUID)
	doc.Sentences = []models.Sentence{*sentence}
	store.addDocument(doc)
	return store, sentence
}

func TestValidateResponse_OK(t *testing.T) {
	store, sentence := newStoreWithSentence(t)

	// "au" is a supertoken, so 5 of the 6 tokens are eligible for pos.
	result := ValidateResponse(
		context.Background(),
		store,
		"pos",
		sentence.UUID,
		probasBody(t, 5),
	)

	assert.Equal(t, models.ValidationOK, result.Status)
	assert.Empty(t, result.Reason)
	require.NotNil(t, result.Sentence)
	assert.Equal(t, sentence.UUID, result.Sentence.UUID)
	require.Len(t, result.Distributions, 5)
	for _, dist := range result.Distributions {
		require.Len(t, dist, 2)
		assert.Equal(t, "NOUN", dist[0].Label)
		assert.Equal(t, 0.9, dist[0].Probability)
		assert.Equal(t, "VERB", dist[1].Label)
		assert.Equal(t, 0.1, dist[1].Probability)
	}
}

func TestValidateResponse_SentenceSegmentationEligibility(t *testing.T) {
	store, sentence := newStoreWithSentence(t)

	// sentseg only labels plain tokens: Je, vais, marché.
	result := ValidateResponse(
		context.Background(),
		store,
		models.AnnotationSentenceSegmentation,
		sentence.UUID,
		probasBody(t, 3),
	)
	assert.Equal(t, models.ValidationOK, result.Status)
	assert.Len(t, result.Distributions, 3)

	// Subtokens don't count for sentseg, so the pos-shaped response of 5
	// distributions is rejected.
	result = ValidateResponse(
		context.Background(),
		store,
		models.AnnotationSentenceSegmentation,
		sentence.UUID,
		probasBody(t, 5),
	)
	assert.Equal(t, models.ValidationBadData, result.Status)
}

func TestValidateResponse_SentenceGone(t *testing.T) {
	store, sentence := newStoreWithSentence(t)
	store.deleteSentence(sentence.UUID)

	result := ValidateResponse(
		context.Background(),
		store,
		"pos",
		sentence.UUID,
		probasBody(t, 5),
	)

	assert.Equal(t, models.ValidationGone, result.Status)
	assert.Nil(t, result.Distributions)
}

func TestValidateResponse_CountMismatch(t *testing.T) {
	store, sentence := newStoreWithSentence(t)

	testCases := []struct {
		name  string
		count int
	}{
		{"empty", 0},
		{"one short", 4},
		{"one extra", 6},
		{"doubled", 10},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := ValidateResponse(
				context.Background(),
				store,
				"pos",
				sentence.UUID,
				probasBody(t, tc.count),
			)
			assert.Equal(t, models.ValidationBadData, result.Status)
			assert.Contains(t, result.Reason, "expected 5 distributions")
			assert.Contains(t, result.Reason, fmt.Sprintf("got %d", tc.count))
		})
	}
}

func TestValidateResponse_MalformedBody(t *testing.T) {
	store, sentence := newStoreWithSentence(t)

	testCases := []struct {
		name string
		body string
	}{
		{"not JSON", `<html>Service Unavailable</html>`},
		{"missing probabilities", `{"predictions": []}`},
		{"probabilities not a list", `{"probabilities": 42}`},
		{
			"distribution not a list",
			`{"probabilities": ["x", "x", "x", "x", "x"]}`,
		},
		{
			"entry not a pair",
			`{"probabilities": [[["NOUN"]], [["NOUN",0.9]], [["NOUN",0.9]], [["NOUN",0.9]], [["NOUN",0.9]]]}`,
		},
		{
			"label not textual",
			`{"probabilities": [[[17,0.9]], [["NOUN",0.9]], [["NOUN",0.9]], [["NOUN",0.9]], [["NOUN",0.9]]]}`,
		},
		{
			"probability not numeric",
			`{"probabilities": [[["NOUN","high"]], [["NOUN",0.9]], [["NOUN",0.9]], [["NOUN",0.9]], [["NOUN",0.9]]]}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := ValidateResponse(
				context.Background(),
				store,
				"pos",
				sentence.UUID,
				[]byte(tc.body),
			)
			assert.Equal(t, models.ValidationBadData, result.Status)
			assert.NotEmpty(t, result.Reason)
		})
	}
}

func TestValidateResponse_UUIDLabelNormalization(t *testing.T) {
	store, sentence := newStoreWithSentence(t)

	// Head-style annotations return token UUIDs as labels.
	target := "3fa85f64-5717-4562-b3fc-2c963f66afa6"
	probas := make([][][]interface{}, 5)
	for i := range probas {
		probas[i] = [][]interface{}{
			{target, 0.8},
			{"root", 0.2},
		}
	}
	body, err := json.Marshal(map[string]interface{}{"probabilities": probas})
	require.NoError(t, err)

	result := ValidateResponse(context.Background(), store, "heads", sentence.UUID, body)

	require.Equal(t, models.ValidationOK, result.Status)
	dist := result.Distributions[0]
	assert.Equal(t, uuid.MustParse(target), dist[0].Label)
	assert.Equal(t, "root", dist[1].Label)
}

func TestNormalizeLabel(t *testing.T) {
	u := "3fa85f64-5717-4562-b3fc-2c963f66afa6"
	assert.Equal(t, uuid.MustParse(u), normalizeLabel(u))
	// Only the canonical 36-char form is promoted to a UUID value.
	assert.Equal(t, "3fa85f6457174562b3fc2c963f66afa6", normalizeLabel("3fa85f6457174562b3fc2c963f66afa6"))
	assert.Equal(t, "NOUN", normalizeLabel("NOUN"))
	assert.Equal(t, "", normalizeLabel(""))
}
