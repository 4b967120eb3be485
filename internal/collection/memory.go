package collection

import (
	"fmt"
	"sync"
)

// Memory is an in-memory Collection. It backs the CLI harness and the
// test suite; real deployments adapt the host application's storage
// behind the Collection interface instead.
type Memory struct {
	mu sync.Mutex

	nextID int64

	// records by kind, keyed by entity UUID.
	byUUID map[Kind]map[string]Record

	// local-id indexes.
	models map[int64]Record
	decks  map[int64]Record
	notes  map[int64]Record

	// note local id -> model local id and deck local id bindings.
	noteModel map[int64]int64
	noteDeck  map[int64]int64

	deckByName map[string]int64

	currentModel int64
}

// NewMemory creates an empty in-memory collection.
func NewMemory() *Memory {
	return &Memory{
		nextID:     1,
		byUUID:     map[Kind]map[string]Record{KindDeck: {}, KindNoteModel: {}, KindNote: {}},
		models:     map[int64]Record{},
		decks:      map[int64]Record{},
		notes:      map[int64]Record{},
		noteModel:  map[int64]int64{},
		noteDeck:   map[int64]int64{},
		deckByName: map[string]int64{},
	}
}

func (m *Memory) allocID() int64 {
	id := m.nextID
	m.nextID++

	return id
}

// recUUID extracts the stable entity UUID from a record. Decks and
// note-types carry it under "crowdanki_uuid"; notes use "guid".
func recUUID(rec Record) string {
	if s, _ := rec["crowdanki_uuid"].(string); s != "" {
		return s
	}

	s, _ := rec["guid"].(string)

	return s
}

// FindByUUID resolves an entity by UUID within its kind.
func (m *Memory) FindByUUID(kind Kind, uid string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byUUID[kind][uid]
	if !ok {
		return nil, false, nil
	}

	return rec.Clone(), true, nil
}

// AddNoteModel installs a new note-type and returns its local id.
func (m *Memory) AddNoteModel(rec Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.allocID()
	stored := rec.Clone()
	stored["id"] = id
	m.models[id] = stored

	if uid := recUUID(stored); uid != "" {
		m.byUUID[KindNoteModel][uid] = stored
	}

	return id, nil
}

// UpdateNoteModel replaces the stored record for an existing note-type.
func (m *Memory) UpdateNoteModel(id int64, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.models[id]; !ok {
		return fmt.Errorf("note model %d not found", id)
	}

	stored := rec.Clone()
	stored["id"] = id
	m.models[id] = stored

	if uid := recUUID(stored); uid != "" {
		m.byUUID[KindNoteModel][uid] = stored
	}

	return nil
}

// RenameNoteModel changes only the model's name.
func (m *Memory) RenameNoteModel(id int64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.models[id]
	if !ok {
		return fmt.Errorf("note model %d not found", id)
	}

	rec["name"] = name

	return nil
}

// SetCurrentNoteModel marks a model as the collection's current one.
func (m *Memory) SetCurrentNoteModel(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.models[id]; !ok {
		return fmt.Errorf("note model %d not found", id)
	}

	m.currentModel = id

	return nil
}

// CurrentNoteModel returns the local id of the current note-type.
func (m *Memory) CurrentNoteModel() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.currentModel
}

// NoteIDsForModel lists local ids of notes bound to the given model.
func (m *Memory) NoteIDsForModel(id int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []int64

	for nid, mid := range m.noteModel {
		if mid == id {
			ids = append(ids, nid)
		}
	}

	return ids, nil
}

// AddDeck installs a new deck and returns its local id.
func (m *Memory) AddDeck(rec Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.allocID()
	stored := rec.Clone()
	stored["id"] = id
	m.decks[id] = stored

	if uid := recUUID(stored); uid != "" {
		m.byUUID[KindDeck][uid] = stored
	}

	if name := stored.Name(); name != "" {
		m.deckByName[name] = id
	}

	return id, nil
}

// UpdateDeck replaces the stored record for an existing deck.
func (m *Memory) UpdateDeck(id int64, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.decks[id]
	if !ok {
		return fmt.Errorf("deck %d not found", id)
	}

	if name := old.Name(); name != "" {
		delete(m.deckByName, name)
	}

	stored := rec.Clone()
	stored["id"] = id
	m.decks[id] = stored

	if uid := recUUID(stored); uid != "" {
		m.byUUID[KindDeck][uid] = stored
	}

	if name := stored.Name(); name != "" {
		m.deckByName[name] = id
	}

	return nil
}

// DeckIDByName resolves a deck by full name, creating it when absent.
func (m *Memory) DeckIDByName(name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.deckByName[name]; ok {
		return id, nil
	}

	id := m.allocID()
	m.decks[id] = Record{"id": id, "name": name}
	m.deckByName[name] = id

	return id, nil
}

// modelIDFor resolves the model a note record belongs to via its
// "note_model_uuid" attribute, falling back to the collection's current
// model when the record carries none. Caller holds the lock.
func (m *Memory) modelIDFor(rec Record) int64 {
	uid, _ := rec["note_model_uuid"].(string)
	if uid == "" {
		return m.currentModel
	}

	model, ok := m.byUUID[KindNoteModel][uid]
	if !ok {
		return m.currentModel
	}

	return model.LocalID()
}

// AddNote installs a new note into the given deck, bound to the model
// named by its "note_model_uuid".
func (m *Memory) AddNote(rec Record, deckID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.allocID()
	stored := rec.Clone()
	stored["id"] = id
	m.notes[id] = stored

	if uid := recUUID(stored); uid != "" {
		m.byUUID[KindNote][uid] = stored
	}

	m.noteDeck[id] = deckID
	m.noteModel[id] = m.modelIDFor(stored)

	return id, nil
}

// UpdateNote rewrites a note record, optionally reparenting it.
func (m *Memory) UpdateNote(id int64, rec Record, deckID int64, move bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.notes[id]; !ok {
		return fmt.Errorf("note %d not found", id)
	}

	stored := rec.Clone()
	stored["id"] = id
	m.notes[id] = stored

	if uid := recUUID(stored); uid != "" {
		m.byUUID[KindNote][uid] = stored
	}

	m.noteModel[id] = m.modelIDFor(stored)

	if move {
		m.noteDeck[id] = deckID
	}

	return nil
}

// NoteDeck returns the deck a note currently lives in.
func (m *Memory) NoteDeck(id int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.noteDeck[id]
}

// ModelRecord returns the stored record for a model local id.
func (m *Memory) ModelRecord(id int64) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.models[id]
	if !ok {
		return nil, false
	}

	return rec.Clone(), true
}

// NoteRecord returns the stored record for a note local id.
func (m *Memory) NoteRecord(id int64) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.notes[id]
	if !ok {
		return nil, false
	}

	return rec.Clone(), true
}

// DeckRecord returns the stored record for a deck local id.
func (m *Memory) DeckRecord(id int64) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.decks[id]
	if !ok {
		return nil, false
	}

	return rec.Clone(), true
}
