package testutils

import (
	"github.com/google/uuid"

	"github.com/conllab/conllab/pkg/models"
)

// NewTestSentence returns "Je vais au marché" with its "au" contraction
// expanded, covering plain, supertoken and subtoken tags in one sentence.
func NewTestSentence(documentUUID uuid.UUID) *models.Sentence {
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
	return &models.Sentence{
		UUID:         sentenceUUID,
		DocumentUUID: documentUUID,
		Ord:          0,
		SentID:       "test-doc-s1",
		Text:         "Je vais au marché",
		Tokens: []models.Token{
			mk(0, "1", models.TokenPlain, "Je"),
			mk(1, "2", models.TokenPlain, "vais"),
			mk(2, "3-4", models.TokenSuper, "au"),
			mk(3, "3", models.TokenSub, "à"),
			mk(4, "4", models.TokenSub, "le"),
			mk(5, "5", models.TokenPlain, "marché"),
		},
	}
}
