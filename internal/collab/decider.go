package collab

import (
	"context"

	"github.com/alexjbarnes/deck-sync/internal/collection"
)

//go:generate mockgen -source=decider.go -destination=decider_mock.go -package=collab

// Choice is the user's decision over an update's changelog.
type Choice int

const (
	// ChoiceAccept applies the update and advances the subscription's
	// timestamp.
	ChoiceAccept Choice = iota

	// ChoicePostpone leaves everything untouched; the update is
	// re-offered on the next pull cycle.
	ChoicePostpone

	// ChoiceAbort skips the update but still advances the timestamp, so
	// the same change set is treated as already seen and not re-fetched
	// verbatim.
	ChoiceAbort
)

// Decider is the human-decision capability the engine blocks on. Hosts
// implement it with dialogs; tests script it. Each call returns only
// after the interaction completed, so applying an update descriptor
// never proceeds past a pending decision.
type Decider interface {
	// ConfirmChangelog presents an update's changelog and returns the
	// user's choice.
	ConfirmChangelog(ctx context.Context, deckHash, changelog string) (Choice, error)

	// SelectOptionalTags renegotiates the optional tag selection when
	// the offered tag-name set changed. current is the persisted
	// mapping, offered the server's new one; the returned mapping is
	// persisted and its true subset feeds the merge pass.
	SelectOptionalTags(ctx context.Context, deckHash string, current, offered map[string]bool) (map[string]bool, error)

	// RemapNotes lets the user reassign fields and templates after a
	// structural conflict. oldModel is the renamed previous note-type,
	// noteIDs the notes still bound to it. The engine consumes nothing
	// beyond the interaction having completed (or been deferred).
	RemapNotes(ctx context.Context, oldModel collection.Record, noteIDs []int64) error
}
