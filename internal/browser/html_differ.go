package browser

import (
	"crypto/md5"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// volatileAttr strips attributes that change without the UI changing
var volatileAttr = regexp.MustCompile(`\sdata-uimap-(hit|scope)="[^"]*"`)

// HTMLDiffer remembers the last document hash per key so unchanged
// snapshots can skip re-probing
type HTMLDiffer struct {
	mu   sync.Mutex
	last map[string]string
}

// NewHTMLDiffer creates a new HTML differ
func NewHTMLDiffer() *HTMLDiffer {
	return &HTMLDiffer{last: map[string]string{}}
}

// HasChanged reports whether html differs from the previous call for key
// and records it
func (d *HTMLDiffer) HasChanged(key, html string) bool {
	hash := HashHTML(html)
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, seen := d.last[key]
	d.last[key] = hash
	return !seen || prev != hash
}

// Forget drops the remembered hash for key
func (d *HTMLDiffer) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.last, key)
}

// HashHTML hashes whitespace-normalized markup
func HashHTML(html string) string {
	normalized := volatileAttr.ReplaceAllString(html, "")
	normalized = strings.Join(strings.Fields(normalized), " ")
	return fmt.Sprintf("%x", md5.Sum([]byte(normalized)))
}
