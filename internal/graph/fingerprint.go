package graph

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/lance13c/uimap/internal/types"
)

// labelSample is how many field labels take part in a node fingerprint
const labelSample = 8

func sha1Hex(parts ...string) string {
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// NormalizeURL lower-cases the host and drops a trailing slash. Hash routes
// are kept because device UIs route pages through the fragment.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimRight(strings.TrimSpace(raw), "/")
	}
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.Fragment = strings.TrimRight(u.Fragment, "/")
	return u.String()
}

// Fingerprint hashes the identity-defining content of a node
func Fingerprint(p *types.PageEntry, breadcrumb, groupTitles, labels []string) string {
	if len(labels) > labelSample {
		labels = labels[:labelSample]
	}
	return sha1Hex(
		string(p.Kind),
		NormalizeURL(p.URL),
		strings.ToLower(p.Title),
		strings.Join(breadcrumb, ">"),
		strings.Join(groupTitles, ","),
		strings.Join(labels, ","),
		p.ActiveTab,
	)
}

// idAllocator hands out ids, suffixing -2, -3, ... on collision
type idAllocator struct {
	used map[string]int
}

func newIDAllocator() *idAllocator {
	return &idAllocator{used: map[string]int{}}
}

func (a *idAllocator) take(id string) string {
	a.used[id]++
	n := a.used[id]
	if n == 1 {
		return id
	}
	for {
		cand := fmt.Sprintf("%s-%d", id, n)
		if a.used[cand] == 0 {
			a.used[cand] = 1
			return cand
		}
		n++
	}
}

// NodeID is the first 12 hex chars of a fingerprint
func NodeID(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}
