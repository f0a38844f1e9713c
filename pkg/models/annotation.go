package models

import (
	"fmt"
)

// AnnotationType identifies one kind of machine-predicted annotation,
// e.g. "sentseg", "pos" or "heads". Types are open strings; only sentence
// segmentation has special token-eligibility rules.
type AnnotationType string

const AnnotationSentenceSegmentation AnnotationType = "sentseg"

// FactKey is the token-fact key distributions are stored under.
func (at AnnotationType) FactKey() string {
	return fmt.Sprintf("%s/probas", string(at))
}

// LabelProbability is one entry of a token's probability distribution.
// Label is either a plain string or a uuid.UUID when the service returned
// a UUID-formatted label.
type LabelProbability struct {
	Label       interface{} `json:"label"`
	Probability float64     `json:"probability"`
}

// ProbDistribution is the per-token distribution returned by a prediction
// service, positionally aligned with the sentence's eligible tokens.
type ProbDistribution []LabelProbability

// EligibleTokens filters a sentence's tokens down to those a prediction
// service is expected to label for the given annotation type. Sentence
// segmentation only looks at plain tokens; every other annotation skips
// supertokens. Token order is preserved.
func EligibleTokens(at AnnotationType, tokens []Token) []Token {
	eligible := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		if at == AnnotationSentenceSegmentation {
			if t.Type == TokenPlain {
				eligible = append(eligible, t)
			}
			continue
		}
		if t.Type != TokenSuper {
			eligible = append(eligible, t)
		}
	}
	return eligible
}

// ValidationStatus classifies a prediction service response.
type ValidationStatus int

const (
	// ValidationOK means the response parsed and matched the sentence.
	ValidationOK ValidationStatus = iota
	// ValidationBadData means the response was malformed for this sentence.
	ValidationBadData
	// ValidationGone means the sentence no longer exists in the store.
	ValidationGone
)

func (s ValidationStatus) String() string {
	switch s {
	case ValidationOK:
		return "ok"
	case ValidationBadData:
		return "bad_data"
	case ValidationGone:
		return "gone"
	default:
		return "unknown"
	}
}

// ValidationResult is the tagged outcome of validating a service response.
// Distributions and Sentence are populated only when Status is
// ValidationOK; Reason only when Status is ValidationBadData. Sentence is
// the snapshot the distributions were validated against, so persistence
// pairs tokens and distributions consistently.
type ValidationResult struct {
	Status        ValidationStatus
	Distributions []ProbDistribution
	Sentence      *Sentence
	Reason        string
}
