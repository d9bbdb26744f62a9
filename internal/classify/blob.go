package classify

import (
	"strings"
	"unicode"

	"github.com/lance13c/uimap/internal/config"
)

// BlobFilter decides when a label is an accidentally captured block of
// text (an option list, a help paragraph) instead of a UI chrome label
type BlobFilter struct {
	MaxChars              int
	MaxWords              int
	MaxPunctuationDensity float64
	MinLexicalDiversity   float64
}

// NewBlobFilter builds a filter from config
func NewBlobFilter(cfg config.BlobConfig) BlobFilter {
	return BlobFilter{
		MaxChars:              cfg.MaxChars,
		MaxWords:              cfg.MaxWords,
		MaxPunctuationDensity: cfg.MaxPunctuationDensity,
		MinLexicalDiversity:   cfg.MinLexicalDiversity,
	}
}

// DefaultBlobFilter uses the config defaults
func DefaultBlobFilter() BlobFilter {
	return NewBlobFilter(config.DefaultConfig().Classifier.Blob)
}

// IsBlob reports whether s looks like a blob
func (b BlobFilter) IsBlob(s string) bool {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return false
	}
	runes := []rune(s)
	if b.MaxChars > 0 && len(runes) > b.MaxChars {
		return true
	}
	words := strings.Fields(strings.ToLower(s))
	if b.MaxWords > 0 && len(words) > b.MaxWords {
		return true
	}

	var visible, punct int
	for _, r := range runes {
		if unicode.IsSpace(r) {
			continue
		}
		visible++
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			punct++
		}
	}
	if visible >= 4 && b.MaxPunctuationDensity > 0 &&
		float64(punct)/float64(visible) > b.MaxPunctuationDensity {
		return true
	}

	if len(words) >= 4 && b.MinLexicalDiversity > 0 {
		unique := map[string]struct{}{}
		for _, w := range words {
			unique[w] = struct{}{}
		}
		if float64(len(unique))/float64(len(words)) < b.MinLexicalDiversity {
			return true
		}
	}
	return false
}
