package domain

import (
	"strings"
)

// allowedSortFields is the closed allow-list §4.A requires: every entry
// also selects a precompiled static SQL string in the relational gateway,
// so an unknown field/direction must be rejected before any query runs.
var allowedSortFields = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"title":      true,
}

var allowedSortDirections = map[string]bool{
	"asc":  true,
	"desc": true,
}

// ValidateListOpts rejects anything not on the sort allow-list.
func ValidateListOpts(o ListOpts) error {
	if o.SortField != "" && !allowedSortFields[o.SortField] {
		return NewValidationError("sort_field", o.SortField, ErrUnsupportedSortField)
	}
	if o.SortDirection != "" && !allowedSortDirections[strings.ToLower(o.SortDirection)] {
		return NewValidationError("sort_direction", o.SortDirection, ErrUnsupportedSortDir)
	}
	if o.Limit < 0 || o.Offset < 0 {
		return NewValidationError("limit", o.SortField, ErrValidation)
	}
	return nil
}

// ValidateTransform checks the invariants a transform must hold before it
// is persisted: a known kind, a non-empty owner, and embedder ids present
// for the kinds that require them.
func ValidateTransform(t Transform) error {
	if !t.Kind.Valid() {
		return NewValidationError("kind", string(t.Kind), ErrUnknownKind)
	}
	if t.Owner.ID == "" {
		return NewValidationError("owner_id", t.Owner.ID, ErrValidation)
	}
	if t.SourceResourceID == "" {
		return NewValidationError("source_resource_id", t.SourceResourceID, ErrValidation)
	}
	switch t.Kind {
	case KindDatasetToVectorStorage, KindVisualization:
		if len(t.EmbedderIDs) == 0 {
			return NewValidationError("embedder_ids", "", ErrValidation)
		}
	}
	return nil
}

// validTransitions enumerates the only status transitions §8 allows. A
// transition not in this set (including anything leaving a terminal-success
// state) is rejected by ValidateStatusTransition.
var validTransitions = map[[2]BatchStatus]bool{
	{"", BatchProcessing}: true,
	{BatchProcessing, BatchSuccess}: true,
	{BatchProcessing, BatchCompleted}: true,
	{BatchProcessing, BatchFailed}: true,
	{"", BatchFailed}: true,
}

// ValidateStatusTransition enforces previous-status monotonicity: no path
// leads out of a terminal-success state, and only the combinations spec'd
// in §8 are legal. Callers use this as the idempotency guard described in
// §4.H step 3 before applying a result.
func ValidateStatusTransition(prev, next BatchStatus) error {
	if prev.TerminalSuccess() {
		return NewValidationError("status", string(next), ErrInvalidStatusTransition)
	}
	if !validTransitions[[2]BatchStatus{prev, next}] {
		return NewValidationError("status", string(next), ErrInvalidStatusTransition)
	}
	return nil
}

// ValidateChunks rejects a batch worth of chunks reporting zero items.
// §9's open question ("implementers should unify this to always fail
// zero-chunk batches") is resolved here: internal/listener.Handle calls
// this for kind-1 and kind-2 results before writing the ledger row, coercing
// a worker-reported zero-chunk "success" into a failure. Kind-3
// (visualization) results have no notion of chunks and are exempt.
func ValidateChunks(n int) error {
	if n == 0 {
		return ErrEmptyChunks
	}
	return nil
}
