package graph

import (
	"strings"

	"github.com/lance13c/uimap/internal/types"
)

// maxSlug bounds the readable prefix of a field id
const maxSlug = 48

// CanonicalControlID picks the most stable anchor of a control: id
// selector, name attribute, declared field id, label text, then the raw
// discovery key
func CanonicalControlID(f *types.FieldEntry) string {
	for _, s := range f.Selectors {
		if s.Kind == types.SelectorCSS && strings.HasPrefix(s.Value, "#") && s.Stability != types.Fragile {
			return s.Value
		}
	}
	for _, s := range f.Selectors {
		if s.Kind == types.SelectorCSS && strings.Contains(s.Value, "[name=") {
			return s.Value
		}
	}
	if f.HTMLName != "" {
		return "name:" + f.HTMLName
	}
	if f.DeclaredID != "" {
		return "declared:" + f.DeclaredID
	}
	if f.Label != "" && f.LabelQuality != types.LabelMissing {
		return "label:" + types.Slug(f.Label)
	}
	return "src:" + f.SourceID
}

// FieldKey is the identity tuple a field id is derived from
type FieldKey struct {
	Breadcrumb     []string
	ContainerTitle string
	GroupTitle     string
	ControlID      string
	FrameURL       string
	ModalTitle     string
}

// Signature joins the tuple the way the hash sees it
func (k FieldKey) Signature() string {
	return strings.Join([]string{
		strings.Join(k.Breadcrumb, ">"),
		k.ContainerTitle,
		k.GroupTitle,
		k.ControlID,
		k.FrameURL,
		k.ModalTitle,
	}, "|")
}

// FieldID is a readable slug path followed by 12 hex chars of the key hash
func FieldID(k FieldKey, label string) string {
	hash := sha1Hex(k.Signature())[:12]
	var parts []string
	for _, p := range []string{k.ContainerTitle, label} {
		if s := types.Slug(p); s != "" {
			parts = append(parts, s)
		}
	}
	prefix := strings.Join(parts, ".")
	if len(prefix) > maxSlug {
		prefix = strings.TrimRight(prefix[:maxSlug], "-.")
	}
	if prefix == "" {
		return hash
	}
	return prefix + "." + hash
}
