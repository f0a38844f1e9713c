package models

import (
	"time"

	"github.com/google/uuid"
)

// TokenType tags a token's structural role within a sentence.
type TokenType string

const (
	TokenPlain    TokenType = "plain"
	TokenEllipsis TokenType = "ellipsis"
	TokenSuper    TokenType = "supertoken"
	TokenSub      TokenType = "subtoken"
)

type Token struct {
	UUID         uuid.UUID              `json:"uuid"`
	SentenceUUID uuid.UUID              `json:"sentence_uuid"`
	// Ord is the token's position within the sentence, starting at 0.
	Ord    int       `json:"ord"`
	CID    string    `json:"cid"` // CoNLL-U ID column: "3", "3-4" or "3.1"
	Type   TokenType `json:"type"`
	Form   string    `json:"form"`
	Lemma  string    `json:"lemma,omitempty"`
	UPOS   string    `json:"upos,omitempty"`
	XPOS   string    `json:"xpos,omitempty"`
	Feats  string    `json:"feats,omitempty"`
	Head   string    `json:"head,omitempty"`
	Deprel string    `json:"deprel,omitempty"`
	Deps   string    `json:"deps,omitempty"`
	Misc   string    `json:"misc,omitempty"`
	// Facts holds token-scoped annotation facts keyed by fact key,
	// e.g. "pos/probas".
	Facts map[string]interface{} `json:"facts,omitempty"`
}

type Sentence struct {
	UUID         uuid.UUID `json:"uuid"`
	DocumentUUID uuid.UUID `json:"document_uuid"`
	Ord          int       `json:"ord"`
	SentID       string    `json:"sent_id,omitempty"`
	Text         string    `json:"text,omitempty"`
	Tokens       []Token   `json:"tokens"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Document struct {
	UUID      uuid.UUID              `json:"uuid"`
	Name      string                 `json:"name"`
	Stats     map[string]interface{} `json:"stats,omitempty"`
	Sentences []Sentence             `json:"sentences,omitempty"`
	CreatedAt time.Time              `json:"created_at,omitempty"`
	UpdatedAt time.Time              `json:"updated_at,omitempty"`
}

// DocumentStats is the derived, fully-recomputed statistics payload stored
// on a document after every completed annotation job.
type DocumentStats struct {
	SentenceCount int            `json:"sentence_count"`
	TokenCount    int            `json:"token_count"`
	Completed     map[string]int `json:"completed"`
}
