package collab

import "sort"

// OldModelSuffix is appended to a note-type's name when a structurally
// incompatible update replaces it. The renamed model is kept, not
// deleted, so existing notes remain queryable until the manual remap
// completes.
const OldModelSuffix = " *old"

// ModelsCompatible reports whether two versions of a note-type are
// semantically identical in shape: same ordered field identity and same
// ordered template identity. Both groups are sorted by declared ordinal
// before the element-wise (name, ord) comparison, so a server sending
// the arrays in a different order does not register as a conflict as
// long as the ordinals match. Any count difference or mismatched pair
// marks the models incompatible, which routes the update through the
// manual remap path.
func ModelsCompatible(prev, next *NoteModel) bool {
	return orderedGroupsEqual(prev.Fields, next.Fields) &&
		orderedGroupsEqual(prev.Templates, next.Templates)
}

func orderedGroupsEqual(a, b []OrderedItem) bool {
	if len(a) != len(b) {
		return false
	}

	as := sortedByOrd(a)
	bs := sortedByOrd(b)

	for i := range as {
		if as[i].Name != bs[i].Name || as[i].Ord != bs[i].Ord {
			return false
		}
	}

	return true
}

func sortedByOrd(items []OrderedItem) []OrderedItem {
	out := make([]OrderedItem, len(items))
	copy(out, items)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Ord < out[j].Ord
	})

	return out
}

// modelFromRecord rebuilds the ordered groups of a stored note-type
// record so a persisted local model can be compared against an incoming
// one.
func modelFromRecord(rec map[string]any) *NoteModel {
	m := &NoteModel{}

	if s, ok := rec["name"].(string); ok {
		m.Name = s
	}

	if s, ok := rec["crowdanki_uuid"].(string); ok {
		m.UUID = s
	}

	m.Fields = orderedItemsFromRecord(rec, "flds")
	m.Templates = orderedItemsFromRecord(rec, "tmpls")

	return m
}

func orderedItemsFromRecord(rec map[string]any, key string) []OrderedItem {
	group, ok := rec[key].([]any)
	if !ok {
		return nil
	}

	items := make([]OrderedItem, 0, len(group))

	for _, entry := range group {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}

		item := OrderedItem{}

		if s, ok := obj["name"].(string); ok {
			item.Name = s
		}

		if v, ok := obj["ord"].(float64); ok {
			item.Ord = int(v)
		}

		items = append(items, item)
	}

	return items
}
