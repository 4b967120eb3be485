package collab

import (
	"strings"

	"github.com/alexjbarnes/deck-sync/internal/collection"
)

// OptionalTagPrefix is the tag namespace optional tags live under. Tags
// outside this namespace always pass through to the merged note.
const OptionalTagPrefix = "AnkiCollab_Optional::"

// MergeConfig is the effective configuration for one update pass. It is
// constructed fresh per update descriptor and never persisted.
type MergeConfig struct {
	// OptionalTags is the enabled subset of the negotiated tag names.
	OptionalTags []string

	// HasOptionalTags is true when the server offered any optional tags
	// for this update, enabled or not.
	HasOptionalTags bool

	// UseNotes controls whether note content participates in this pass.
	UseNotes bool

	// UseMedia controls whether media references participate.
	UseMedia bool

	// HonorDeckMovement controls whether a note following its deck to a
	// new parent is applied or ignored. Movement is honored on a normal
	// update pass.
	HonorDeckMovement bool

	// protected maps note-type name -> set of field names the merge must
	// never overwrite.
	protected map[string]map[string]struct{}
}

// NewMergeConfig builds the merge configuration for one update from the
// server's protected-field view and the subscription's enabled tags.
func NewMergeConfig(protectedModels []ProtectedModel, enabledTags []string, hasOptionalTags bool) *MergeConfig {
	cfg := &MergeConfig{
		OptionalTags:      enabledTags,
		HasOptionalTags:   hasOptionalTags,
		UseNotes:          true,
		UseMedia:          false,
		HonorDeckMovement: true,
		protected:         make(map[string]map[string]struct{}),
	}

	for _, pm := range protectedModels {
		for _, f := range pm.Fields {
			cfg.AddProtectedField(pm.Name, f.Name)
		}
	}

	return cfg
}

// AddProtectedField marks a field of the named note-type as personal.
func (c *MergeConfig) AddProtectedField(modelName, fieldName string) {
	fields, ok := c.protected[modelName]
	if !ok {
		fields = make(map[string]struct{})
		c.protected[modelName] = fields
	}

	fields[fieldName] = struct{}{}
}

// IsProtected reports whether the named field of the named note-type
// must keep its local value through a merge.
func (c *MergeConfig) IsProtected(modelName, fieldName string) bool {
	fields, ok := c.protected[modelName]
	if !ok {
		return false
	}

	_, ok = fields[fieldName]

	return ok
}

// ProtectedOrds resolves the protected field names of a note-type into
// their ordinal positions. Note field values are stored positionally,
// so protection is enforced by ordinal at merge time.
func (c *MergeConfig) ProtectedOrds(model *NoteModel) map[int]struct{} {
	ords := make(map[int]struct{})

	for _, f := range model.Fields {
		if c.IsProtected(model.Name, f.Name) {
			ords[f.Ord] = struct{}{}
		}
	}

	return ords
}

// FilterTags drops disabled optional tags. Tags outside the optional
// namespace are kept unchanged; tags inside it are kept only when the
// tag name after the namespace prefix is currently enabled.
func (c *MergeConfig) FilterTags(tags []string) []string {
	if !c.HasOptionalTags {
		return tags
	}

	enabled := make(map[string]struct{}, len(c.OptionalTags))
	for _, t := range c.OptionalTags {
		enabled[t] = struct{}{}
	}

	out := make([]string, 0, len(tags))

	for _, tag := range tags {
		if !strings.HasPrefix(tag, OptionalTagPrefix) {
			out = append(out, tag)
			continue
		}

		name := strings.TrimPrefix(tag, OptionalTagPrefix)
		if _, ok := enabled[name]; ok {
			out = append(out, tag)
		}
	}

	return out
}

// MergeRecords combines a freshly received record with the previously
// stored local one. The result starts from the full local record, then
// every remote attribute overwrites the local one. Attributes existing
// only locally survive untouched. This is a one-level overwrite-merge;
// per-field protection for notes is layered on top via MergeNoteFields.
func MergeRecords(existing, incoming collection.Record) collection.Record {
	merged := existing.Clone()

	for k, v := range incoming {
		merged[k] = v
	}

	return merged
}

// MergeNoteFields merges a note's positional field values. Remote
// values win except at protected ordinals, which keep the local value.
// Applying the same update twice is idempotent: protected ordinals
// always end up with the original local value.
func MergeNoteFields(localFields, remoteFields []any, protectedOrds map[int]struct{}) []any {
	merged := make([]any, len(remoteFields))
	copy(merged, remoteFields)

	for ord := range protectedOrds {
		if ord < len(merged) && ord < len(localFields) {
			merged[ord] = localFields[ord]
		}
	}

	return merged
}
