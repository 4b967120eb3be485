package collab

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/alexjbarnes/deck-sync/internal/collection"
	"github.com/google/uuid"
)

// Subscription tracks one remote deck the user follows. DeckHash is
// immutable once created. DeckID is 0 until the first successful
// install and transitions to a non-zero value exactly once.
type Subscription struct {
	DeckHash        string              `json:"deck_hash"`
	DeckID          int64               `json:"deckId"`
	Timestamp       string              `json:"timestamp"`
	OptionalTags    map[string]bool     `json:"optional_tags"`
	ProtectedFields map[string][]string `json:"protected_fields,omitempty"`
	MediaURL        string              `json:"media_url,omitempty"`
}

// Installed reports whether the subscription's deck exists locally.
func (s Subscription) Installed() bool { return s.DeckID != 0 }

// EnabledTags returns the optional tag names currently resolved to true,
// sorted for deterministic merge configs.
func (s Subscription) EnabledTags() []string {
	var tags []string

	for name, on := range s.OptionalTags {
		if on {
			tags = append(tags, name)
		}
	}

	sort.Strings(tags)

	return tags
}

// TagNamesDiffer compares the subscription's persisted optional tag
// names against a newly offered set. Only the sorted name sets matter;
// the enabled/disabled values do not. Negotiation happens iff this
// returns true.
func (s Subscription) TagNamesDiffer(offered map[string]bool) bool {
	return !sameNameSet(s.OptionalTags, offered)
}

func sameNameSet(a map[string]bool, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}

	for name := range a {
		if _, ok := b[name]; !ok {
			return false
		}
	}

	return true
}

// ProtectedModel is one note-type's protected-field list as sent by the
// server: fields the user marked personal, never overwritten by a merge.
type ProtectedModel struct {
	Name   string           `json:"name"`
	Fields []ProtectedField `json:"fields"`
}

// ProtectedField names a single protected field within a note-type.
type ProtectedField struct {
	Name string `json:"name"`
}

// UpdateDescriptor is one element of a pulled change set.
type UpdateDescriptor struct {
	DeckHash        string           `json:"deck_hash"`
	RawDeck         json.RawMessage  `json:"deck"`
	MediaURL        string           `json:"media_url"`
	Changelog       string           `json:"changelog"`
	ProtectedFields []ProtectedModel `json:"protected_fields"`
	OptionalTags    map[string]bool  `json:"optional_tags"`

	// Deck is the parsed form of RawDeck, populated by DecodeResponse.
	Deck *Deck `json:"-"`
}

// Deck is the schema-validated form of a serialized deck tree. Known
// attributes are lifted into typed fields; everything else is retained
// in Extra so the merge policy can round-trip attributes the engine
// does not model.
type Deck struct {
	UUID     string
	Name     string
	Children []*Deck
	Models   []*NoteModel
	Notes    []*Note
	Media    []string
	Extra    collection.Record
}

// NoteModel is the schema-validated form of a note-type definition.
type NoteModel struct {
	UUID      string
	Name      string
	Fields    []OrderedItem
	Templates []OrderedItem
	Extra     collection.Record
}

// OrderedItem is one entry of a note-type's field or template group:
// the (name, ordinal) pair that defines its structural identity.
type OrderedItem struct {
	Name string
	Ord  int
}

// Note is the schema-validated form of a note. FieldValues is ordered
// by the owning model's field ordinals.
type Note struct {
	UUID        string
	ModelUUID   string
	FieldValues []string
	Tags        []string
	Extra       collection.Record
}

const (
	uuidKey      = "crowdanki_uuid"
	noteGUIDKey  = "guid"
	noteModelKey = "note_model_uuid"
)

// ParseDeck decodes a standalone serialized deck tree, for callers
// holding deck JSON outside a pull response (exports, fixtures).
func ParseDeck(raw json.RawMessage) (*Deck, error) {
	return parseDeck(raw)
}

// parseDeck decodes a raw deck subtree into a Deck, validating the
// attributes the engine depends on. It fails on missing or malformed
// UUIDs rather than guessing, since identity resolution is built on
// them.
func parseDeck(raw json.RawMessage) (*Deck, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("deck is not an object: %w", err)
	}

	d := &Deck{Extra: collection.Record{}}

	if err := extractUUID(obj, uuidKey, &d.UUID); err != nil {
		return nil, err
	}

	if err := extractString(obj, "name", &d.Name); err != nil {
		return nil, err
	}

	if d.Name == "" {
		return nil, fmt.Errorf("deck %s has no name", d.UUID)
	}

	if rawModels, ok := obj["note_models"]; ok {
		var items []json.RawMessage
		if err := json.Unmarshal(rawModels, &items); err != nil {
			return nil, fmt.Errorf("deck %s note_models: %w", d.UUID, err)
		}

		for i, item := range items {
			m, err := parseNoteModel(item)
			if err != nil {
				return nil, fmt.Errorf("deck %s note_models[%d]: %w", d.UUID, i, err)
			}

			d.Models = append(d.Models, m)
		}

		delete(obj, "note_models")
	}

	if rawNotes, ok := obj["notes"]; ok {
		var items []json.RawMessage
		if err := json.Unmarshal(rawNotes, &items); err != nil {
			return nil, fmt.Errorf("deck %s notes: %w", d.UUID, err)
		}

		for i, item := range items {
			n, err := parseNote(item)
			if err != nil {
				return nil, fmt.Errorf("deck %s notes[%d]: %w", d.UUID, i, err)
			}

			d.Notes = append(d.Notes, n)
		}

		delete(obj, "notes")
	}

	if rawChildren, ok := obj["children"]; ok {
		var items []json.RawMessage
		if err := json.Unmarshal(rawChildren, &items); err != nil {
			return nil, fmt.Errorf("deck %s children: %w", d.UUID, err)
		}

		for i, item := range items {
			child, err := parseDeck(item)
			if err != nil {
				return nil, fmt.Errorf("deck %s children[%d]: %w", d.UUID, i, err)
			}

			d.Children = append(d.Children, child)
		}

		delete(obj, "children")
	}

	if rawMedia, ok := obj["media_files"]; ok {
		if err := json.Unmarshal(rawMedia, &d.Media); err != nil {
			return nil, fmt.Errorf("deck %s media_files: %w", d.UUID, err)
		}

		delete(obj, "media_files")
	}

	if err := decodeExtras(obj, d.Extra); err != nil {
		return nil, fmt.Errorf("deck %s: %w", d.UUID, err)
	}

	d.Extra[uuidKey] = d.UUID
	d.Extra["name"] = d.Name

	return d, nil
}

func parseNoteModel(raw json.RawMessage) (*NoteModel, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("note model is not an object: %w", err)
	}

	m := &NoteModel{Extra: collection.Record{}}

	if err := extractUUID(obj, uuidKey, &m.UUID); err != nil {
		return nil, err
	}

	if err := extractString(obj, "name", &m.Name); err != nil {
		return nil, err
	}

	if m.Name == "" {
		return nil, fmt.Errorf("note model %s has no name", m.UUID)
	}

	var err error

	m.Fields, err = parseOrderedGroup(obj, "flds")
	if err != nil {
		return nil, fmt.Errorf("note model %s: %w", m.UUID, err)
	}

	m.Templates, err = parseOrderedGroup(obj, "tmpls")
	if err != nil {
		return nil, fmt.Errorf("note model %s: %w", m.UUID, err)
	}

	if err := decodeExtras(obj, m.Extra); err != nil {
		return nil, fmt.Errorf("note model %s: %w", m.UUID, err)
	}

	m.Extra[uuidKey] = m.UUID
	m.Extra["name"] = m.Name

	return m, nil
}

// parseOrderedGroup reads a field or template group, keeping the full
// per-item objects in the record (they carry host attributes like fonts
// and template bodies) while lifting the (name, ord) identity pairs.
// The raw group stays under its original key for the merge policy.
func parseOrderedGroup(obj map[string]json.RawMessage, key string) ([]OrderedItem, error) {
	raw, ok := obj[key]
	if !ok {
		return nil, fmt.Errorf("missing %q group", key)
	}

	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%q group: %w", key, err)
	}

	out := make([]OrderedItem, 0, len(items))

	for i, item := range items {
		name, _ := item["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("%q group item %d has no name", key, i)
		}

		ord := 0
		if v, ok := item["ord"].(float64); ok {
			ord = int(v)
		}

		out = append(out, OrderedItem{Name: name, Ord: ord})
	}

	return out, nil
}

func parseNote(raw json.RawMessage) (*Note, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("note is not an object: %w", err)
	}

	n := &Note{Extra: collection.Record{}}

	if err := extractString(obj, noteGUIDKey, &n.UUID); err != nil {
		return nil, err
	}

	if n.UUID == "" {
		return nil, fmt.Errorf("note has no guid")
	}

	if err := extractUUID(obj, noteModelKey, &n.ModelUUID); err != nil {
		return nil, err
	}

	if rawFields, ok := obj["fields"]; ok {
		if err := json.Unmarshal(rawFields, &n.FieldValues); err != nil {
			return nil, fmt.Errorf("note %s fields: %w", n.UUID, err)
		}

		delete(obj, "fields")
	}

	if rawTags, ok := obj["tags"]; ok {
		if err := json.Unmarshal(rawTags, &n.Tags); err != nil {
			return nil, fmt.Errorf("note %s tags: %w", n.UUID, err)
		}

		delete(obj, "tags")
	}

	if err := decodeExtras(obj, n.Extra); err != nil {
		return nil, fmt.Errorf("note %s: %w", n.UUID, err)
	}

	n.Extra[noteGUIDKey] = n.UUID
	n.Extra[noteModelKey] = n.ModelUUID

	return n, nil
}

// extractUUID reads and validates a UUID-valued attribute.
func extractUUID(obj map[string]json.RawMessage, key string, dst *string) error {
	if err := extractString(obj, key, dst); err != nil {
		return err
	}

	if *dst == "" {
		return fmt.Errorf("missing %q", key)
	}

	if _, err := uuid.Parse(*dst); err != nil {
		return fmt.Errorf("invalid %q: %w", key, err)
	}

	return nil
}

func extractString(obj map[string]json.RawMessage, key string, dst *string) error {
	raw, ok := obj[key]
	if !ok {
		return nil
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("attribute %q: %w", key, err)
	}

	delete(obj, key)

	return nil
}

// decodeExtras moves all remaining raw attributes into the record.
func decodeExtras(obj map[string]json.RawMessage, rec collection.Record) error {
	for k, raw := range obj {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("attribute %q: %w", k, err)
		}

		rec[k] = v
	}

	return nil
}

// Record converts the parsed model back into a host record, with the
// field and template groups preserved under their wire keys.
func (m *NoteModel) Record() collection.Record {
	return m.Extra.Clone()
}

// Record converts the parsed note back into a host record.
func (n *Note) Record() collection.Record {
	rec := n.Extra.Clone()

	fields := make([]any, len(n.FieldValues))
	for i, v := range n.FieldValues {
		fields[i] = v
	}

	rec["fields"] = fields

	tags := make([]any, len(n.Tags))
	for i, v := range n.Tags {
		tags[i] = v
	}

	rec["tags"] = tags

	return rec
}

// Record converts the parsed deck back into a host record. Child decks,
// models, and notes are applied separately by the reconciler and are
// not embedded.
func (d *Deck) Record() collection.Record {
	return d.Extra.Clone()
}
