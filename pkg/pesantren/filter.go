package pesantren

import (
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/text/cases"
)

// Filters narrows a search. Zero-valued fields do not constrain results.
type Filters struct {
	// Location matches as a case-insensitive substring of the record location.
	Location string

	// Programs matches records offering at least one of the listed programs.
	Programs mapset.Set[string]

	// MinRating keeps records rated at or above the threshold.
	MinRating *float64

	// MaxFees keeps records whose monthly fee is at or below the threshold.
	MaxFees *int64

	// Facilities matches records offering every listed facility.
	Facilities mapset.Set[string]
}

// NewFilters returns empty filters with initialized sets.
func NewFilters() Filters {
	return Filters{
		Programs:   mapset.NewSet[string](),
		Facilities: mapset.NewSet[string](),
	}
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool {
	return strings.TrimSpace(f.Location) == "" &&
		setEmpty(f.Programs) &&
		f.MinRating == nil &&
		f.MaxFees == nil &&
		setEmpty(f.Facilities)
}

// Clone returns a copy that does not share sets or pointers with f.
func (f Filters) Clone() Filters {
	c := Filters{Location: f.Location}
	if f.Programs != nil {
		c.Programs = f.Programs.Clone()
	}
	if f.Facilities != nil {
		c.Facilities = f.Facilities.Clone()
	}
	if f.MinRating != nil {
		v := *f.MinRating
		c.MinRating = &v
	}
	if f.MaxFees != nil {
		v := *f.MaxFees
		c.MaxFees = &v
	}
	return c
}

// ProgramList returns the program filter sorted.
func (f Filters) ProgramList() []string {
	return sortedMembers(f.Programs)
}

// FacilityList returns the facility filter sorted.
func (f Filters) FacilityList() []string {
	return sortedMembers(f.Facilities)
}

// Query is the full search input: free text plus filters.
type Query struct {
	Text    string
	Filters Filters
}

// IsZero reports whether the query would match everything.
func (q Query) IsZero() bool {
	return strings.TrimSpace(q.Text) == "" && q.Filters.IsZero()
}

// Clone returns a deep copy of q.
func (q Query) Clone() Query {
	return Query{Text: q.Text, Filters: q.Filters.Clone()}
}

// Params returns the canonical parameter map used for cache keys and
// request encoding. Empty fields are omitted.
func (q Query) Params() map[string]any {
	params := make(map[string]any)
	if t := strings.TrimSpace(q.Text); t != "" {
		params["q"] = t
	}
	f := q.Filters
	if l := strings.TrimSpace(f.Location); l != "" {
		params["location"] = l
	}
	if programs := f.ProgramList(); len(programs) > 0 {
		params["programs"] = programs
	}
	if facilities := f.FacilityList(); len(facilities) > 0 {
		params["facilities"] = facilities
	}
	if f.MinRating != nil {
		params["min_rating"] = *f.MinRating
	}
	if f.MaxFees != nil {
		params["max_fees"] = *f.MaxFees
	}
	return params
}

// Match reports whether p satisfies every predicate in q. This is the same
// predicate the backend applies, so local filtering approximates a server
// search.
func (q Query) Match(p Pesantren) bool {
	if text := strings.TrimSpace(q.Text); text != "" && !matchText(p, fold(text)) {
		return false
	}
	return q.Filters.Match(p)
}

// Match reports whether p satisfies all filters.
func (f Filters) Match(p Pesantren) bool {
	if l := strings.TrimSpace(f.Location); l != "" && !strings.Contains(fold(p.Location), fold(l)) {
		return false
	}
	if f.MinRating != nil && p.Rating < *f.MinRating {
		return false
	}
	if f.MaxFees != nil && p.Fees.Monthly > *f.MaxFees {
		return false
	}
	if !setEmpty(f.Programs) && !containsAny(p.Programs, f.Programs) {
		return false
	}
	if !setEmpty(f.Facilities) && !containsAll(p.Facilities, f.Facilities) {
		return false
	}
	return true
}

// Filter returns the records in items matching q, preserving order.
func Filter(items []Pesantren, q Query) []Pesantren {
	result := make([]Pesantren, 0, len(items))
	for _, p := range items {
		if q.Match(p) {
			result = append(result, p)
		}
	}
	return result
}

func matchText(p Pesantren, needle string) bool {
	if strings.Contains(fold(p.Name), needle) || strings.Contains(fold(p.Location), needle) {
		return true
	}
	for _, program := range p.Programs {
		if strings.Contains(fold(program), needle) {
			return true
		}
	}
	return false
}

// containsAny reports whether have shares at least one member with want,
// compared case-insensitively.
func containsAny(have []string, want mapset.Set[string]) bool {
	folded := foldSet(have)
	found := false
	want.Each(func(w string) bool {
		if folded.Contains(fold(w)) {
			found = true
			return true
		}
		return false
	})
	return found
}

// containsAll reports whether every member of want is in have.
func containsAll(have []string, want mapset.Set[string]) bool {
	folded := foldSet(have)
	missing := false
	want.Each(func(w string) bool {
		if !folded.Contains(fold(w)) {
			missing = true
			return true
		}
		return false
	})
	return !missing
}

func foldSet(items []string) mapset.Set[string] {
	s := mapset.NewThreadUnsafeSetWithSize[string](len(items))
	for _, item := range items {
		s.Add(fold(item))
	}
	return s
}

func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

func setEmpty(s mapset.Set[string]) bool {
	return s == nil || s.Cardinality() == 0
}

func sortedMembers(s mapset.Set[string]) []string {
	if setEmpty(s) {
		return nil
	}
	members := s.ToSlice()
	sort.Strings(members)
	return members
}
