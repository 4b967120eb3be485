package collab

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/alexjbarnes/deck-sync/internal/collection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseTestDeck(t *testing.T, raw string) *Deck {
	t.Helper()

	deck, err := ParseDeck([]byte(raw))
	require.NoError(t, err)

	return deck
}

func TestApplyDeckCreatesEverything(t *testing.T) {
	ctrl := gomock.NewController(t)
	col := collection.NewMemory()
	decider := NewMockDecider(ctrl)
	rec := NewReconciler(col, decider, testLogger())

	deck := parseTestDeck(t, testDeckJSON())

	deckID, err := rec.ApplyDeck(context.Background(), deck, NewMergeConfig(nil, nil, false))
	require.NoError(t, err)
	require.NotZero(t, deckID)

	stored, found, err := col.FindByUUID(collection.KindDeck, testDeckUUID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Geography", stored.Name())

	_, found, err = col.FindByUUID(collection.KindNoteModel, testModelUUID)
	require.NoError(t, err)
	assert.True(t, found)

	note, found, err := col.FindByUUID(collection.KindNote, "n0t3gu1d")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []any{"What is the capital of France?", "Paris"}, note["fields"])
}

func TestApplyDeckNestsChildNames(t *testing.T) {
	ctrl := gomock.NewController(t)
	col := collection.NewMemory()
	rec := NewReconciler(col, NewMockDecider(ctrl), testLogger())

	raw := fmt.Sprintf(`{
		"crowdanki_uuid": %q,
		"name": "Geography",
		"children": [{
			"crowdanki_uuid": %q,
			"name": "Capitals"
		}]
	}`, testDeckUUID, testChildUUID)

	_, err := rec.ApplyDeck(context.Background(), parseTestDeck(t, raw), NewMergeConfig(nil, nil, false))
	require.NoError(t, err)

	child, found, err := col.FindByUUID(collection.KindDeck, testChildUUID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Geography::Capitals", child.Name())
}

func TestApplyDeckUpdateKeepsLocalOnlyAttributes(t *testing.T) {
	ctrl := gomock.NewController(t)
	col := collection.NewMemory()
	rec := NewReconciler(col, NewMockDecider(ctrl), testLogger())
	ctx := context.Background()
	cfg := NewMergeConfig(nil, nil, false)

	_, err := rec.ApplyDeck(ctx, parseTestDeck(t, testDeckJSON()), cfg)
	require.NoError(t, err)

	// Host writes an attribute the server knows nothing about.
	stored, found, err := col.FindByUUID(collection.KindDeck, testDeckUUID)
	require.NoError(t, err)
	require.True(t, found)

	stored["local_setting"] = "collapse"
	require.NoError(t, col.UpdateDeck(stored.LocalID(), stored))

	_, err = rec.ApplyDeck(ctx, parseTestDeck(t, testDeckJSON()), cfg)
	require.NoError(t, err)

	stored, _, err = col.FindByUUID(collection.KindDeck, testDeckUUID)
	require.NoError(t, err)
	assert.Equal(t, "collapse", stored["local_setting"])
}

func TestApplyDeckProtectedFieldSurvivesUpdate(t *testing.T) {
	ctrl := gomock.NewController(t)
	col := collection.NewMemory()
	rec := NewReconciler(col, NewMockDecider(ctrl), testLogger())
	ctx := context.Background()

	_, err := rec.ApplyDeck(ctx, parseTestDeck(t, testDeckJSON()), NewMergeConfig(nil, nil, false))
	require.NoError(t, err)

	// User personalizes the Back field locally.
	note, found, err := col.FindByUUID(collection.KindNote, "n0t3gu1d")
	require.NoError(t, err)
	require.True(t, found)

	note["fields"] = []any{"What is the capital of France?", "X"}
	require.NoError(t, col.UpdateNote(note.LocalID(), note, 0, false))

	protected := []ProtectedModel{{Name: "Basic", Fields: []ProtectedField{{Name: "Back"}}}}

	// The same remote content arrives again; Back must keep the local
	// value and the update must be idempotent.
	for i := 0; i < 2; i++ {
		_, err = rec.ApplyDeck(ctx, parseTestDeck(t, testDeckJSON()), NewMergeConfig(protected, nil, false))
		require.NoError(t, err)

		note, _, err = col.FindByUUID(collection.KindNote, "n0t3gu1d")
		require.NoError(t, err)
		assert.Equal(t, []any{"What is the capital of France?", "X"}, note["fields"])
	}
}

func TestApplyDeckStructuralConflictRenamesOldModel(t *testing.T) {
	ctrl := gomock.NewController(t)
	col := collection.NewMemory()
	decider := NewMockDecider(ctrl)
	rec := NewReconciler(col, decider, testLogger())
	ctx := context.Background()

	// Install the initial version.
	_, err := rec.ApplyDeck(ctx, parseTestDeck(t, testDeckJSON()), NewMergeConfig(nil, nil, false))
	require.NoError(t, err)

	existing, found, err := col.FindByUUID(collection.KindNoteModel, testModelUUID)
	require.NoError(t, err)
	require.True(t, found)

	oldID := existing.LocalID()

	// The fixture note was bound to the model during install.
	noteRec, _, err := col.FindByUUID(collection.KindNote, "n0t3gu1d")
	require.NoError(t, err)

	// Same model UUID, but a field was added: structurally incompatible.
	changed := fmt.Sprintf(`{
		"crowdanki_uuid": %q,
		"name": "Geography",
		"note_models": [{
			"crowdanki_uuid": %q,
			"name": "Basic",
			"flds": [{"name": "Front", "ord": 0}, {"name": "Back", "ord": 1}, {"name": "Notes", "ord": 2}],
			"tmpls": [{"name": "Card 1", "ord": 0}]
		}]
	}`, testDeckUUID, testModelUUID)

	decider.EXPECT().
		RemapNotes(gomock.Any(), gomock.Any(), []int64{noteRec.LocalID()}).
		DoAndReturn(func(_ context.Context, oldModel collection.Record, _ []int64) error {
			assert.Equal(t, "Basic"+OldModelSuffix, oldModel.Name())
			return nil
		})

	_, err = rec.ApplyDeck(ctx, parseTestDeck(t, changed), NewMergeConfig(nil, nil, false))
	require.NoError(t, err)

	// The old model survives under the marker name.
	oldRec, ok := col.ModelRecord(oldID)
	require.True(t, ok)
	assert.Equal(t, "Basic"+OldModelSuffix, oldRec.Name())

	// The replacement is installed and current.
	newID := col.CurrentNoteModel()
	assert.NotEqual(t, oldID, newID)

	newRec, ok := col.ModelRecord(newID)
	require.True(t, ok)
	assert.Equal(t, "Basic", newRec.Name())
}

func TestApplyDeckCompatibleModelUpdateIsSilent(t *testing.T) {
	ctrl := gomock.NewController(t)
	col := collection.NewMemory()
	decider := NewMockDecider(ctrl)
	rec := NewReconciler(col, decider, testLogger())
	ctx := context.Background()

	_, err := rec.ApplyDeck(ctx, parseTestDeck(t, testDeckJSON()), NewMergeConfig(nil, nil, false))
	require.NoError(t, err)

	existing, _, err := col.FindByUUID(collection.KindNoteModel, testModelUUID)
	require.NoError(t, err)

	oldID := existing.LocalID()

	// Same structure, new styling. No RemapNotes expectation: the strict
	// mock fails the test if the conflict path runs.
	updated := fmt.Sprintf(`{
		"crowdanki_uuid": %q,
		"name": "Geography",
		"note_models": [{
			"crowdanki_uuid": %q,
			"name": "Basic",
			"css": ".card { font-size: 30px }",
			"flds": [{"name": "Back", "ord": 1}, {"name": "Front", "ord": 0}],
			"tmpls": [{"name": "Card 1", "ord": 0}]
		}]
	}`, testDeckUUID, testModelUUID)

	_, err = rec.ApplyDeck(ctx, parseTestDeck(t, updated), NewMergeConfig(nil, nil, false))
	require.NoError(t, err)

	stored, ok := col.ModelRecord(oldID)
	require.True(t, ok)
	assert.Equal(t, ".card { font-size: 30px }", stored["css"])
}

func TestApplyDeckHonorsDeckMovementFlag(t *testing.T) {
	ctrl := gomock.NewController(t)
	col := collection.NewMemory()
	rec := NewReconciler(col, NewMockDecider(ctrl), testLogger())
	ctx := context.Background()

	base := fmt.Sprintf(`{"crowdanki_uuid": %q, "name": "Geography"}`, testDeckUUID)

	_, err := rec.ApplyDeck(ctx, parseTestDeck(t, base), NewMergeConfig(nil, nil, false))
	require.NoError(t, err)

	renamed := fmt.Sprintf(`{"crowdanki_uuid": %q, "name": "World Geography"}`, testDeckUUID)

	t.Run("movement ignored keeps local name", func(t *testing.T) {
		cfg := NewMergeConfig(nil, nil, false)
		cfg.HonorDeckMovement = false

		_, err := rec.ApplyDeck(ctx, parseTestDeck(t, renamed), cfg)
		require.NoError(t, err)

		stored, _, err := col.FindByUUID(collection.KindDeck, testDeckUUID)
		require.NoError(t, err)
		assert.Equal(t, "Geography", stored.Name())
	})

	t.Run("default config takes remote name", func(t *testing.T) {
		// NewMergeConfig honors movement out of the box.
		cfg := NewMergeConfig(nil, nil, false)

		_, err := rec.ApplyDeck(ctx, parseTestDeck(t, renamed), cfg)
		require.NoError(t, err)

		stored, _, err := col.FindByUUID(collection.KindDeck, testDeckUUID)
		require.NoError(t, err)
		assert.Equal(t, "World Geography", stored.Name())
	})
}

func TestApplyDeckSkipsNotesWhenDisabled(t *testing.T) {
	ctrl := gomock.NewController(t)
	col := collection.NewMemory()
	rec := NewReconciler(col, NewMockDecider(ctrl), testLogger())

	cfg := NewMergeConfig(nil, nil, false)
	cfg.UseNotes = false

	_, err := rec.ApplyDeck(context.Background(), parseTestDeck(t, testDeckJSON()), cfg)
	require.NoError(t, err)

	_, found, err := col.FindByUUID(collection.KindNote, "n0t3gu1d")
	require.NoError(t, err)
	assert.False(t, found)

	// Models still apply regardless of the notes switch.
	_, found, err = col.FindByUUID(collection.KindNoteModel, testModelUUID)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestApplyDeckNoteWithUnknownModelDoesNotFailSiblings(t *testing.T) {
	ctrl := gomock.NewController(t)
	col := collection.NewMemory()
	rec := NewReconciler(col, NewMockDecider(ctrl), testLogger())

	raw := fmt.Sprintf(`{
		"crowdanki_uuid": %q,
		"name": "Geography",
		"note_models": [{
			"crowdanki_uuid": %q,
			"name": "Basic",
			"flds": [{"name": "Front", "ord": 0}, {"name": "Back", "ord": 1}],
			"tmpls": [{"name": "Card 1", "ord": 0}]
		}],
		"notes": [
			{"guid": "orphan", "note_model_uuid": %q, "fields": ["a", "b"]},
			{"guid": "healthy", "note_model_uuid": %q, "fields": ["c", "d"]}
		]
	}`, testDeckUUID, testModelUUID, testModel2UUID, testModelUUID)

	_, err := rec.ApplyDeck(context.Background(), parseTestDeck(t, raw), NewMergeConfig(nil, nil, false))
	require.NoError(t, err)

	// The note referencing the unknown model is skipped with a warning;
	// its sibling still lands.
	_, found, err := col.FindByUUID(collection.KindNote, "orphan")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = col.FindByUUID(collection.KindNote, "healthy")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestApplyDeckNormalizesDeckNames(t *testing.T) {
	ctrl := gomock.NewController(t)
	col := collection.NewMemory()
	rec := NewReconciler(col, NewMockDecider(ctrl), testLogger())

	// The name arrives in NFD form: "e" followed by a combining acute
	// accent.
	raw := fmt.Sprintf(`{"crowdanki_uuid": %q, "name": "Ge\u0301ographie"}`, testDeckUUID)

	_, err := rec.ApplyDeck(context.Background(), parseTestDeck(t, raw), NewMergeConfig(nil, nil, false))
	require.NoError(t, err)

	stored, _, err := col.FindByUUID(collection.KindDeck, testDeckUUID)
	require.NoError(t, err)
	assert.Equal(t, "Géographie", stored.Name())
}

func TestApplyDeckFiltersOptionalTags(t *testing.T) {
	ctrl := gomock.NewController(t)
	col := collection.NewMemory()
	rec := NewReconciler(col, NewMockDecider(ctrl), testLogger())

	raw := fmt.Sprintf(`{
		"crowdanki_uuid": %q,
		"name": "Geography",
		"note_models": [{
			"crowdanki_uuid": %q,
			"name": "Basic",
			"flds": [{"name": "Front", "ord": 0}, {"name": "Back", "ord": 1}],
			"tmpls": [{"name": "Card 1", "ord": 0}]
		}],
		"notes": [{
			"guid": "n0t3gu1d",
			"note_model_uuid": %q,
			"fields": ["q", "a"],
			"tags": ["geo", "AnkiCollab_Optional::Extra", "AnkiCollab_Optional::Mnemonics"]
		}]
	}`, testDeckUUID, testModelUUID, testModelUUID)

	cfg := NewMergeConfig(nil, []string{"Extra"}, true)

	_, err := rec.ApplyDeck(context.Background(), parseTestDeck(t, raw), cfg)
	require.NoError(t, err)

	note, _, err := col.FindByUUID(collection.KindNote, "n0t3gu1d")
	require.NoError(t, err)
	assert.Equal(t, []any{"geo", OptionalTagPrefix + "Extra"}, note["tags"])
}
