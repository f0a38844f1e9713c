package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/conllab/conllab/pkg/models"
)

// ValidateResponse checks a prediction service's reply against the
// sentence's current token structure. The sentence is re-fetched so a
// concurrent edit or deletion is observed: a vanished sentence yields
// ValidationGone, which callers treat as "job trivially complete".
//
// The body is parsed as an untyped JSON tree and checked field by field;
// nothing beyond what is checked here is assumed about the service.
func ValidateResponse(
	ctx context.Context,
	store models.CorpusStore,
	at models.AnnotationType,
	sentenceUUID uuid.UUID,
	body []byte,
) models.ValidationResult {
	sentence, err := store.GetSentence(ctx, sentenceUUID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ValidationResult{Status: models.ValidationGone}
		}
		return badData(fmt.Sprintf("failed to fetch sentence: %v", err))
	}

	eligible := models.EligibleTokens(at, sentence.Tokens)

	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return badData(fmt.Sprintf("response body is not valid JSON: %v", err))
	}

	rawProbas, ok := parsed["probabilities"]
	if !ok {
		return badData(`response is missing the "probabilities" field`)
	}

	probas, ok := rawProbas.([]interface{})
	if !ok {
		return badData(`"probabilities" is not a list`)
	}

	if len(probas) != len(eligible) {
		return badData(fmt.Sprintf(
			"expected %d distributions for %d eligible tokens, got %d",
			len(eligible), len(eligible), len(probas),
		))
	}

	distributions := make([]models.ProbDistribution, len(probas))
	for i, rawDist := range probas {
		dist, reason := parseDistribution(rawDist)
		if reason != "" {
			return badData(fmt.Sprintf("distribution %d: %s", i, reason))
		}
		distributions[i] = dist
	}

	return models.ValidationResult{
		Status:        models.ValidationOK,
		Distributions: distributions,
		Sentence:      sentence,
	}
}

func parseDistribution(raw interface{}) (models.ProbDistribution, string) {
	pairs, ok := raw.([]interface{})
	if !ok {
		return nil, "not a list of [label, probability] pairs"
	}

	dist := make(models.ProbDistribution, len(pairs))
	for i, rawPair := range pairs {
		pair, ok := rawPair.([]interface{})
		if !ok || len(pair) != 2 {
			return nil, fmt.Sprintf("entry %d is not a [label, probability] pair", i)
		}

		label, ok := pair[0].(string)
		if !ok {
			return nil, fmt.Sprintf("entry %d label is not textual", i)
		}

		probability, ok := pair[1].(float64)
		if !ok {
			return nil, fmt.Sprintf("entry %d probability is not numeric", i)
		}

		dist[i] = models.LabelProbability{
			Label:       normalizeLabel(label),
			Probability: probability,
		}
	}

	return dist, ""
}

// normalizeLabel converts UUID-formatted labels to uuid.UUID values and
// passes every other label through unchanged.
func normalizeLabel(label string) interface{} {
	if u, err := uuid.Parse(label); err == nil && len(label) == 36 {
		return u
	}
	return label
}

func badData(reason string) models.ValidationResult {
	return models.ValidationResult{
		Status: models.ValidationBadData,
		Reason: reason,
	}
}
