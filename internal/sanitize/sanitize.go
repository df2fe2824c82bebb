// Package sanitize cleans user-supplied text before it is stored.
//
// Single-line fields (titles, names) lose all markup. Long-form fields
// (issue and pull request bodies, descriptions, bios) keep the
// user-generated-content subset of HTML that is safe to render.
package sanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer is safe for concurrent use; bluemonday policies are read-only
// after construction.
type Sanitizer struct {
	text *bluemonday.Policy
	rich *bluemonday.Policy
}

func New() *Sanitizer {
	rich := bluemonday.UGCPolicy()
	rich.RequireNoReferrerOnLinks(true)
	rich.AddTargetBlankToFullyQualifiedLinks(true)

	return &Sanitizer{
		text: bluemonday.StrictPolicy(),
		rich: rich,
	}
}

// maxTextPasses bounds how many layers of entity encoding Text unwraps.
const maxTextPasses = 8

// Text strips every tag and returns plain, trimmed text. Entities are
// decoded so "a & b" round-trips unchanged, and the decoded text is stripped
// again until nothing changes, so "&lt;b&gt;" cannot smuggle a tag through.
// Input still changing after maxTextPasses is returned entity-escaped.
func (s *Sanitizer) Text(in string) string {
	out := in
	for i := 0; i < maxTextPasses; i++ {
		next := html.UnescapeString(s.text.Sanitize(out))
		if next == out {
			return strings.TrimSpace(out)
		}
		out = next
	}
	return strings.TrimSpace(s.text.Sanitize(out))
}

// Rich keeps safe formatting markup and drops scripts, event handlers and
// unsafe URLs.
func (s *Sanitizer) Rich(in string) string {
	return strings.TrimSpace(s.rich.Sanitize(in))
}

// TextPtr and RichPtr apply Text and Rich to optional fields.
func (s *Sanitizer) TextPtr(in *string) *string {
	if in == nil {
		return nil
	}
	out := s.Text(*in)
	return &out
}

func (s *Sanitizer) RichPtr(in *string) *string {
	if in == nil {
		return nil
	}
	out := s.Rich(*in)
	return &out
}
