package model

import "fmt"

// SequenceKind names an independent per-repository numbering sequence.
// Issues and pull requests are numbered separately, each starting at 1.
type SequenceKind string

const (
	SequenceIssue       SequenceKind = "issue"
	SequencePullRequest SequenceKind = "pull_request"
)

func (k SequenceKind) Valid() bool {
	return k == SequenceIssue || k == SequencePullRequest
}

func ParseSequenceKind(s string) (SequenceKind, error) {
	k := SequenceKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("model: unknown sequence kind %q", s)
	}
	return k, nil
}
