package device

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// SelectorKind identifies which device attribute a Selector matches on.
type SelectorKind int

// Selector kinds.
const (
	SelectAll SelectorKind = iota
	SelectID
	SelectLabel
	SelectGroupID
	SelectLocationID
	SelectGroup
	SelectLocation
)

var selectorPrefixes = []struct {
	prefix string
	kind   SelectorKind
}{
	{"id:", SelectID},
	{"label:", SelectLabel},
	{"group_id:", SelectGroupID},
	{"location_id:", SelectLocationID},
	{"group:", SelectGroup},
	{"location:", SelectLocation},
}

// Selector identifies a subset of devices.
//
// Grammar:
//
//	all | id:<hex> | label:<name> | group_id:<id> | location_id:<id> |
//	group:<name> | location:<name>
//
// Names match exactly, ignoring case. Ids match their hex form, ignoring
// case.
type Selector struct {
	Kind  SelectorKind
	Value string
	id    ID
}

// All is the selector matching every device.
var All = Selector{Kind: SelectAll}

// ParseSelector parses selector text.
//
// Returns ErrInvalidSelector for unrecognised forms, empty values and
// malformed ids. A valid selector that matches nothing is not an error.
func ParseSelector(s string) (Selector, error) {
	s = strings.TrimSpace(s)
	if s == "all" {
		return All, nil
	}

	for _, p := range selectorPrefixes {
		if !strings.HasPrefix(s, p.prefix) {
			continue
		}
		value := strings.TrimSpace(s[len(p.prefix):])
		if value == "" {
			return Selector{}, fmt.Errorf("%w: %q has an empty value", ErrInvalidSelector, s)
		}

		sel := Selector{Kind: p.kind, Value: value}
		switch p.kind {
		case SelectID:
			id, err := ParseID(value)
			if err != nil {
				return Selector{}, fmt.Errorf("%w: %w", ErrInvalidSelector, err)
			}
			sel.id = id
			sel.Value = id.String()
		case SelectGroupID, SelectLocationID:
			if _, err := hex.DecodeString(value); err != nil {
				return Selector{}, fmt.Errorf("%w: %q is not a hex id", ErrInvalidSelector, value)
			}
			sel.Value = strings.ToLower(value)
		}
		return sel, nil
	}

	return Selector{}, fmt.Errorf("%w: %q", ErrInvalidSelector, s)
}

// String returns the selector in its textual form.
func (s Selector) String() string {
	if s.Kind == SelectAll {
		return "all"
	}
	for _, p := range selectorPrefixes {
		if p.kind == s.Kind {
			return p.prefix + s.Value
		}
	}
	return fmt.Sprintf("unknown:%s", s.Value)
}

// Matches reports whether r is selected. Attributes that have not been
// reported yet never match a name or id selector.
func (s Selector) Matches(r *Record) bool {
	switch s.Kind {
	case SelectAll:
		return true
	case SelectID:
		return r.id == s.id
	case SelectLabel:
		label, ok := r.Label()
		return ok && strings.EqualFold(label, s.Value)
	case SelectGroup:
		g, ok := r.Group()
		return ok && strings.EqualFold(g.Name, s.Value)
	case SelectLocation:
		l, ok := r.Location()
		return ok && strings.EqualFold(l.Name, s.Value)
	case SelectGroupID:
		g, ok := r.Group()
		return ok && strings.EqualFold(g.ID, s.Value)
	case SelectLocationID:
		l, ok := r.Location()
		return ok && strings.EqualFold(l.ID, s.Value)
	}
	return false
}

// Filter returns the matching records ordered by label, then id. The result
// is empty, not nil, when nothing matches.
func (s Selector) Filter(records map[ID]*Record) []*Record {
	out := make([]*Record, 0)
	if s.Kind == SelectID {
		if r, ok := records[s.id]; ok {
			out = append(out, r)
		}
		return out
	}
	for _, r := range records {
		if s.Matches(r) {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out
}

func sortRecords(rs []*Record) {
	sort.Slice(rs, func(i, j int) bool {
		li, _ := rs[i].Label()
		lj, _ := rs[j].Label()
		li, lj = strings.ToLower(li), strings.ToLower(lj)
		if li != lj {
			return li < lj
		}
		return rs[i].id.String() < rs[j].id.String()
	})
}
