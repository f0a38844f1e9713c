// Package conllu renders sentences and documents as canonical CoNLL-U
// text. Rendering is the only direction implemented here; parsing is
// handled by the ingestion tooling.
package conllu

import (
	"strings"

	"github.com/conllab/conllab/pkg/models"
)

const columnCount = 10

// RenderSentence renders one sentence as a CoNLL-U block, including its
// sent_id and text comments when present. The block ends with a single
// trailing newline.
func RenderSentence(s *models.Sentence) string {
	var sb strings.Builder

	if s.SentID != "" {
		sb.WriteString("# sent_id = ")
		sb.WriteString(s.SentID)
		sb.WriteByte('\n')
	}
	if s.Text != "" {
		sb.WriteString("# text = ")
		sb.WriteString(s.Text)
		sb.WriteByte('\n')
	}

	for i := range s.Tokens {
		sb.WriteString(renderToken(&s.Tokens[i]))
		sb.WriteByte('\n')
	}

	return sb.String()
}

// RenderDocument renders a document as CoNLL-U, one blank line between
// sentence blocks.
func RenderDocument(d *models.Document) string {
	blocks := make([]string, len(d.Sentences))
	for i := range d.Sentences {
		blocks[i] = RenderSentence(&d.Sentences[i])
	}
	return strings.Join(blocks, "\n")
}

func renderToken(t *models.Token) string {
	cols := [columnCount]string{
		t.CID,
		t.Form,
		t.Lemma,
		t.UPOS,
		t.XPOS,
		t.Feats,
		t.Head,
		t.Deprel,
		t.Deps,
		t.Misc,
	}
	for i, c := range cols {
		if c == "" {
			cols[i] = "_"
		}
	}
	return strings.Join(cols[:], "\t")
}
