package classify

import (
	"strings"
	"sync"
	"time"

	"github.com/lance13c/uimap/internal/config"
	"github.com/lance13c/uimap/internal/types"
)

var semanticTags = map[string]bool{
	"a": true, "button": true, "input": true, "select": true, "textarea": true,
	"label": true, "option": true, "summary": true,
}

// Normalizer collapses multi-event sequences produced by a single human
// intent. It holds at most one pending click; a later click either merges
// with it or releases it.
type Normalizer struct {
	mu            sync.Mutex
	classifier    *Classifier
	blob          BlobFilter
	wrapperWindow time.Duration
	radioWindow   time.Duration
	pending       *Classified
}

// NewNormalizer builds a normalizer from classifier config
func NewNormalizer(c *Classifier, cfg config.ClassifierConfig) *Normalizer {
	return &Normalizer{
		classifier:    c,
		blob:          NewBlobFilter(cfg.Blob),
		wrapperWindow: time.Duration(cfg.WrapperWindowMS) * time.Millisecond,
		radioWindow:   time.Duration(cfg.RadioWindowMS) * time.Millisecond,
	}
}

// Push classifies a raw click and returns the clicks that are now final
func (n *Normalizer) Push(raw RawClick) []Classified {
	n.mu.Lock()
	defer n.mu.Unlock()

	cur := n.classifier.Classify(raw)
	var out []Classified
	if n.pending != nil {
		prev := *n.pending
		n.pending = nil
		if merged, ok := n.collapse(prev, cur); ok {
			return []Classified{merged}
		}
		out = append(out, prev)
	}
	if n.holdable(cur) {
		n.pending = &cur
		return out
	}
	return append(out, cur)
}

// Flush releases the pending click, if any
func (n *Normalizer) Flush() []Classified {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pending == nil {
		return nil
	}
	out := []Classified{*n.pending}
	n.pending = nil
	return out
}

// Pending reports whether a click is held for lookahead
func (n *Normalizer) Pending() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pending != nil
}

func (n *Normalizer) holdable(c Classified) bool {
	if c.Kind == types.ClickSystemAlert {
		return false
	}
	return n.isWrapper(c) || isRadioLabel(c)
}

// isWrapper matches a click on a non-semantic container whose text is a blob
func (n *Normalizer) isWrapper(c Classified) bool {
	if c.Raw.Role != "" || semanticTags[strings.ToLower(c.Raw.Tag)] {
		return false
	}
	text := c.Raw.Text
	if text == "" {
		text = c.Label
	}
	return n.blob.IsBlob(text)
}

func isRadioLabel(c Classified) bool {
	return strings.EqualFold(c.Raw.Tag, "label") && strings.EqualFold(c.Raw.ForType, "radio")
}

func (n *Normalizer) collapse(prev, cur Classified) (Classified, bool) {
	gap := time.Duration(cur.Raw.Timestamp-prev.Raw.Timestamp) * time.Millisecond
	if gap < 0 || !sameSubtree(prev.Raw, cur.Raw) {
		return Classified{}, false
	}

	if n.isWrapper(prev) && cur.Kind == types.ClickDropdownTrigger && gap <= n.wrapperWindow {
		cur.Collapsed = prev.Collapsed + 1
		return cur, true
	}

	if isRadioLabel(prev) && cur.Kind == types.ClickRadioSelect && !isRadioLabel(cur) &&
		gap <= n.radioWindow && labelsOverlap(prev.Label, cur.Label) {
		merged := cur
		if prev.Label != "" {
			merged.Label = prev.Label
		}
		merged.Collapsed = prev.Collapsed + 1
		return merged, true
	}
	return Classified{}, false
}

func subtreeKey(c RawClick) string {
	if c.Subtree != "" {
		return c.Subtree
	}
	if i := strings.LastIndex(c.CSS, " > "); i > 0 {
		return c.CSS[:i]
	}
	return c.CSS
}

func sameSubtree(a, b RawClick) bool {
	ka, kb := subtreeKey(a), subtreeKey(b)
	if ka == "" || kb == "" {
		return ka == kb
	}
	return ka == kb || strings.HasPrefix(ka, kb) || strings.HasPrefix(kb, ka)
}

func labelsOverlap(a, b string) bool {
	a = strings.ToLower(strings.Join(strings.Fields(a), " "))
	b = strings.ToLower(strings.Join(strings.Fields(b), " "))
	if a == "" || b == "" {
		return true
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	words := map[string]bool{}
	for _, w := range strings.Fields(a) {
		if len(w) > 1 {
			words[w] = true
		}
	}
	for _, w := range strings.Fields(b) {
		if words[w] {
			return true
		}
	}
	return false
}
