package translate

import (
	"fmt"
	"sort"
)

// DocumentPolicy decides what happens to document content blocks.
type DocumentPolicy int

const (
	// DocumentReject fails the request with invalid_request_error.
	DocumentReject DocumentPolicy = iota
	// DocumentStrip drops document blocks silently.
	DocumentStrip
	// DocumentTextOnly replaces document blocks with a placeholder text part.
	DocumentTextOnly
)

// ParseDocumentPolicy parses the configuration string form.
func ParseDocumentPolicy(s string) (DocumentPolicy, error) {
	switch s {
	case "reject":
		return DocumentReject, nil
	case "strip":
		return DocumentStrip, nil
	case "text_only":
		return DocumentTextOnly, nil
	default:
		return DocumentReject, fmt.Errorf("document_policy invalid: %s", s)
	}
}

// EffortLevel maps a thinking budget threshold to a downstream
// reasoning effort.
type EffortLevel struct {
	Threshold int
	Effort    string
}

// Policy is the immutable per-request translation configuration.
// Translators take it explicitly; there is no ambient state.
type Policy struct {
	// Rename maps caller-facing model names to downstream names.
	Rename map[string]string
	// Display maps downstream model IDs to display names for listings.
	Display map[string]string
	// Allow, when non-empty, restricts requests to the named models.
	Allow map[string]bool
	// Block rejects requests for the named models.
	Block map[string]bool
	// Efforts maps thinking budgets to reasoning efforts, sorted by
	// ascending threshold.
	Efforts []EffortLevel

	OutputStrict bool
	AllowImages  bool
	Documents    DocumentPolicy
}

// SortEfforts orders the effort levels by ascending threshold. Call it
// once after building a Policy from configuration.
func (p *Policy) SortEfforts() {
	sort.Slice(p.Efforts, func(i, j int) bool {
		return p.Efforts[i].Threshold < p.Efforts[j].Threshold
	})
}

// EffortFor returns the effort of the largest threshold not exceeding
// budget, or false when no threshold qualifies.
func (p *Policy) EffortFor(budget int) (string, bool) {
	for i := len(p.Efforts) - 1; i >= 0; i-- {
		if budget >= p.Efforts[i].Threshold {
			return p.Efforts[i].Effort, true
		}
	}
	return "", false
}
