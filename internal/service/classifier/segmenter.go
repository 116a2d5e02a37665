package classifier

import (
	"fmt"
	"strings"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
)

// Segmenter splits raw text into sentences.
type Segmenter interface {
	Split(text string) []string
}

// PunktSegmenter splits text with a pretrained Punkt model.
// Only English training data ships with the tokenizer; other locales reuse it.
type PunktSegmenter struct {
	tokenizer *sentences.DefaultSentenceTokenizer
	locale    language.Tag
}

// NewPunktSegmenter builds a segmenter for locale. An empty locale means English.
func NewPunktSegmenter(locale string) (*PunktSegmenter, error) {
	tag := language.English
	if strings.TrimSpace(locale) != "" {
		parsed, err := language.Parse(locale)
		if err != nil {
			return nil, fmt.Errorf("parse segmenter locale %q: %w", locale, err)
		}
		tag = parsed
	}

	base, _ := tag.Base()
	if enBase, _ := language.English.Base(); base != enBase {
		log.Warn().Str("locale", tag.String()).Msg("No sentence model for locale, using English")
	}

	tokenizer, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		return nil, fmt.Errorf("load sentence model: %w", err)
	}
	return &PunktSegmenter{tokenizer: tokenizer, locale: tag}, nil
}

// Locale returns the locale the segmenter was built for.
func (p *PunktSegmenter) Locale() language.Tag {
	return p.locale
}

// Split returns the trimmed, non-empty sentences of text in order.
func (p *PunktSegmenter) Split(text string) []string {
	var out []string
	for _, s := range p.tokenizer.Tokenize(text) {
		if t := strings.TrimSpace(s.Text); t != "" {
			out = append(out, t)
		}
	}
	return out
}
