// Package collection defines the boundary to the host collection that
// owns the user's decks, note-types, and notes. The sync engine never
// talks to the host's storage primitives directly; it resolves entities
// by their stable cross-collection UUID and applies merged records
// through this interface.
package collection

// Record is a loosely-typed entity record, one level deep: the JSON
// object the host stores for a deck, note-type, or note. The merge
// policy operates on records so that attributes the engine does not
// know about survive a round trip untouched.
type Record map[string]any

// Clone returns a shallow copy of the record. Top-level keys can be
// added or replaced on the copy without mutating the original; nested
// values are shared.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}

	return out
}

// Name returns the record's "name" attribute, or empty string.
func (r Record) Name() string {
	s, _ := r["name"].(string)
	return s
}

// LocalID returns the host-assigned integer identifier stored under
// "id", or 0 when the record has not been installed locally yet.
func (r Record) LocalID() int64 {
	switch v := r["id"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Kind scopes UUID resolution. UUIDs are only unique within their kind.
type Kind string

const (
	KindDeck      Kind = "deck"
	KindNoteModel Kind = "note_model"
	KindNote      Kind = "note"
)

// Collection is the host-collection capability the reconciler needs.
// FindByUUID is a pure lookup and never mutates state. All mutating
// calls are made from a single serialized context; implementations do
// not need their own transaction isolation.
type Collection interface {
	// FindByUUID resolves the stable entity UUID to the local record,
	// or reports absence so a new local record is created. The returned
	// record includes the host's local "id".
	FindByUUID(kind Kind, uid string) (Record, bool, error)

	AddNoteModel(rec Record) (int64, error)
	UpdateNoteModel(id int64, rec Record) error
	// RenameNoteModel changes only the model's name, leaving notes bound
	// to it queryable under the renamed model.
	RenameNoteModel(id int64, name string) error
	// SetCurrentNoteModel marks the model as the collection's current
	// note-type for newly created notes.
	SetCurrentNoteModel(id int64) error
	// NoteIDsForModel lists the local ids of all notes bound to a model.
	NoteIDsForModel(id int64) ([]int64, error)

	AddDeck(rec Record) (int64, error)
	UpdateDeck(id int64, rec Record) error
	// DeckIDByName resolves a deck by its full name, creating it when
	// absent, and returns its local id. Names are NFC-normalized by the
	// caller before lookup.
	DeckIDByName(name string) (int64, error)

	AddNote(rec Record, deckID int64) (int64, error)
	// UpdateNote rewrites a note record. When move is true the note is
	// reparented into deckID; otherwise it stays in its current deck.
	UpdateNote(id int64, rec Record, deckID int64, move bool) error
}
