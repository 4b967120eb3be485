package collab

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/deck-sync/internal/collection"
	"golang.org/x/text/unicode/norm"
)

// deckNameSep separates parent and child deck names in a full deck name.
const deckNameSep = "::"

// Reconciler applies one parsed deck tree to the host collection:
// per entity it resolves the UUID, merges the incoming record with the
// local one, checks note-type structure, and writes the result. All
// calls happen on the single serialized context that owns collection
// mutations.
type Reconciler struct {
	col     collection.Collection
	decider Decider
	logger  *slog.Logger
}

// NewReconciler creates a reconciler with the given dependencies.
func NewReconciler(col collection.Collection, decider Decider, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		col:     col,
		decider: decider,
		logger:  logger,
	}
}

// appliedModel pairs an installed note-type with its local id so notes
// in the same update can resolve their model without re-querying.
type appliedModel struct {
	model   *NoteModel
	localID int64
}

// ApplyDeck applies a deck tree with the given merge configuration and
// returns the root deck's local id. Structural conflicts and per-note
// failures are terminal for that entity only; sibling entities in the
// same update still apply.
func (r *Reconciler) ApplyDeck(ctx context.Context, deck *Deck, cfg *MergeConfig) (int64, error) {
	models := make(map[string]appliedModel)

	return r.applySubtree(ctx, deck, "", cfg, models)
}

func (r *Reconciler) applySubtree(ctx context.Context, deck *Deck, parentName string, cfg *MergeConfig, models map[string]appliedModel) (int64, error) {
	deckID, fullName, err := r.applyDeckRecord(deck, parentName, cfg)
	if err != nil {
		return 0, err
	}

	// Note-types first: notes in this subtree reference them.
	for _, m := range deck.Models {
		applied, err := r.applyModel(ctx, m)
		if err != nil {
			return 0, fmt.Errorf("applying note model %q: %w", m.Name, err)
		}

		models[m.UUID] = applied
	}

	if cfg.UseNotes {
		var failures int

		for _, n := range deck.Notes {
			if err := r.applyNote(n, deckID, cfg, models); err != nil {
				failures++

				r.logger.Warn("applying note",
					slog.String("guid", n.UUID),
					slog.String("error", err.Error()),
				)
			}
		}

		if failures > 0 {
			r.logger.Warn("notes failed to apply",
				slog.String("deck", fullName),
				slog.Int("failed", failures),
				slog.Int("total", len(deck.Notes)),
			)
		}
	}

	for _, child := range deck.Children {
		if _, err := r.applySubtree(ctx, child, fullName, cfg, models); err != nil {
			return 0, err
		}
	}

	return deckID, nil
}

// applyDeckRecord resolves and writes the deck record itself, returning
// its local id and full name. Deck names are NFC-normalized before any
// name-keyed lookup since host collections store NFC names.
func (r *Reconciler) applyDeckRecord(deck *Deck, parentName string, cfg *MergeConfig) (int64, string, error) {
	name := norm.NFC.String(deck.Name)

	fullName := name
	if parentName != "" {
		fullName = parentName + deckNameSep + name
	}

	existing, found, err := r.col.FindByUUID(collection.KindDeck, deck.UUID)
	if err != nil {
		return 0, "", fmt.Errorf("resolving deck %s: %w", deck.UUID, err)
	}

	if !found {
		rec := deck.Record()
		rec["name"] = fullName

		id, err := r.col.AddDeck(rec)
		if err != nil {
			return 0, "", fmt.Errorf("creating deck %q: %w", fullName, err)
		}

		r.logger.Info("deck created", slog.String("name", fullName), slog.Int64("id", id))

		return id, fullName, nil
	}

	merged := MergeRecords(existing, deck.Record())

	// Reparenting shows up as a changed full name. Unless deck movement
	// is honored, the locally chosen position wins.
	if cfg.HonorDeckMovement {
		merged["name"] = fullName
	} else {
		merged["name"] = existing.Name()
		fullName = existing.Name()
	}

	if err := r.col.UpdateDeck(existing.LocalID(), merged); err != nil {
		return 0, "", fmt.Errorf("updating deck %q: %w", fullName, err)
	}

	return existing.LocalID(), fullName, nil
}

// applyModel resolves and writes one note-type. A compatible update is
// merged in place silently. An incompatible one takes the conservative
// path: the previous model is renamed (never deleted), the new model is
// installed and made current, and the notes still bound to the old
// model are handed to the manual remap collaborator.
func (r *Reconciler) applyModel(ctx context.Context, m *NoteModel) (appliedModel, error) {
	existing, found, err := r.col.FindByUUID(collection.KindNoteModel, m.UUID)
	if err != nil {
		return appliedModel{}, fmt.Errorf("resolving note model %s: %w", m.UUID, err)
	}

	if !found {
		id, err := r.col.AddNoteModel(m.Record())
		if err != nil {
			return appliedModel{}, fmt.Errorf("creating note model: %w", err)
		}

		r.logger.Info("note model created", slog.String("name", m.Name), slog.Int64("id", id))

		return appliedModel{model: m, localID: id}, nil
	}

	prev := modelFromRecord(existing)
	prevID := existing.LocalID()

	if ModelsCompatible(prev, m) {
		merged := MergeRecords(existing, m.Record())
		if err := r.col.UpdateNoteModel(prevID, merged); err != nil {
			return appliedModel{}, fmt.Errorf("updating note model: %w", err)
		}

		return appliedModel{model: m, localID: prevID}, nil
	}

	return r.replaceModel(ctx, m, existing, prevID)
}

// replaceModel is the structural-conflict path. Nothing is destroyed:
// the old model stays queryable under its marker name until the user
// finishes remapping.
func (r *Reconciler) replaceModel(ctx context.Context, m *NoteModel, existing collection.Record, prevID int64) (appliedModel, error) {
	noteIDs, err := r.col.NoteIDsForModel(prevID)
	if err != nil {
		return appliedModel{}, fmt.Errorf("listing notes for model %d: %w", prevID, err)
	}

	oldName := existing.Name() + OldModelSuffix
	if err := r.col.RenameNoteModel(prevID, oldName); err != nil {
		return appliedModel{}, fmt.Errorf("renaming old note model: %w", err)
	}

	newID, err := r.col.AddNoteModel(m.Record())
	if err != nil {
		return appliedModel{}, fmt.Errorf("installing replacement note model: %w", err)
	}

	if err := r.col.SetCurrentNoteModel(newID); err != nil {
		return appliedModel{}, fmt.Errorf("making replacement note model current: %w", err)
	}

	r.logger.Info("note model structure changed, remap required",
		slog.String("name", m.Name),
		slog.String("renamed_old", oldName),
		slog.Int("affected_notes", len(noteIDs)),
	)

	oldRec := existing.Clone()
	oldRec["name"] = oldName

	if err := r.decider.RemapNotes(ctx, oldRec, noteIDs); err != nil {
		return appliedModel{}, fmt.Errorf("remapping notes: %w", err)
	}

	return appliedModel{model: m, localID: newID}, nil
}

// applyNote resolves and writes one note. For an update, remote
// attributes win except protected fields, which keep the local value;
// attributes only present locally survive.
func (r *Reconciler) applyNote(n *Note, deckID int64, cfg *MergeConfig, models map[string]appliedModel) error {
	model, err := r.noteModelFor(n, models)
	if err != nil {
		return err
	}

	incoming := n.Record()
	incoming["tags"] = toAnySlice(cfg.FilterTags(n.Tags))

	existing, found, err := r.col.FindByUUID(collection.KindNote, n.UUID)
	if err != nil {
		return fmt.Errorf("resolving note %s: %w", n.UUID, err)
	}

	if !found {
		if _, err := r.col.AddNote(incoming, deckID); err != nil {
			return fmt.Errorf("creating note: %w", err)
		}

		return nil
	}

	merged := MergeRecords(existing, incoming)

	localFields, _ := existing["fields"].([]any)
	remoteFields, _ := incoming["fields"].([]any)
	merged["fields"] = MergeNoteFields(localFields, remoteFields, cfg.ProtectedOrds(model))

	if err := r.col.UpdateNote(existing.LocalID(), merged, deckID, cfg.HonorDeckMovement); err != nil {
		return fmt.Errorf("updating note: %w", err)
	}

	return nil
}

// noteModelFor finds the typed note-type a note belongs to, preferring
// the version installed by this update and falling back to the stored
// local record.
func (r *Reconciler) noteModelFor(n *Note, models map[string]appliedModel) (*NoteModel, error) {
	if applied, ok := models[n.ModelUUID]; ok {
		return applied.model, nil
	}

	rec, found, err := r.col.FindByUUID(collection.KindNoteModel, n.ModelUUID)
	if err != nil {
		return nil, fmt.Errorf("resolving model %s: %w", n.ModelUUID, err)
	}

	if !found {
		return nil, fmt.Errorf("note %s references unknown model %s", n.UUID, n.ModelUUID)
	}

	return modelFromRecord(rec), nil
}

func toAnySlice(items []string) []any {
	out := make([]any, len(items))
	for i, v := range items {
		out[i] = v
	}

	return out
}
