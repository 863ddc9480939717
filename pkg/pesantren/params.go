package pesantren

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when ListParams.Limit is not set.
	DefaultPageSize = 12

	// MaxPageSize caps ListParams.Limit.
	MaxPageSize = 100
)

// Sort orders supported by the listing endpoint.
const (
	SortRating   = "rating"
	SortName     = "name"
	SortStudents = "students"
	SortNewest   = "newest"
)

// ListParams are the listing endpoint's pagination and filter parameters.
type ListParams struct {
	Page       int
	Limit      int
	Search     string
	Province   string
	Program    string
	MinRating  *float64
	MaxFees    *int64
	Facilities []string
	Sort       string
}

// Normalize clamps pagination and canonicalizes list fields.
func (p ListParams) Normalize() ListParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	p.Search = strings.TrimSpace(p.Search)
	p.Province = strings.TrimSpace(p.Province)
	p.Program = strings.TrimSpace(p.Program)
	if len(p.Facilities) > 0 {
		facilities := append([]string(nil), p.Facilities...)
		sort.Strings(facilities)
		p.Facilities = facilities
	}
	return p
}

// Params returns the parameter map used to build cache keys.
func (p ListParams) Params() map[string]any {
	p = p.Normalize()
	params := map[string]any{
		"page":  p.Page,
		"limit": p.Limit,
	}
	if p.Search != "" {
		params["search"] = p.Search
	}
	if p.Province != "" {
		params["province"] = p.Province
	}
	if p.Program != "" {
		params["program"] = p.Program
	}
	if p.MinRating != nil {
		params["min_rating"] = *p.MinRating
	}
	if p.MaxFees != nil {
		params["max_fees"] = *p.MaxFees
	}
	if len(p.Facilities) > 0 {
		params["facilities"] = p.Facilities
	}
	if p.Sort != "" {
		params["sort"] = p.Sort
	}
	return params
}

// Values encodes the parameters as a URL query.
func (p ListParams) Values() url.Values {
	p = p.Normalize()
	v := url.Values{}
	v.Set("page", strconv.Itoa(p.Page))
	v.Set("limit", strconv.Itoa(p.Limit))
	if p.Search != "" {
		v.Set("search", p.Search)
	}
	if p.Province != "" {
		v.Set("province", p.Province)
	}
	if p.Program != "" {
		v.Set("program", p.Program)
	}
	if p.MinRating != nil {
		v.Set("min_rating", strconv.FormatFloat(*p.MinRating, 'f', -1, 64))
	}
	if p.MaxFees != nil {
		v.Set("max_fees", strconv.FormatInt(*p.MaxFees, 10))
	}
	if len(p.Facilities) > 0 {
		v.Set("facilities", strings.Join(p.Facilities, ","))
	}
	if p.Sort != "" {
		v.Set("sort", p.Sort)
	}
	return v
}

// SearchValues encodes a search query for the search endpoint.
func SearchValues(q Query) url.Values {
	v := url.Values{}
	if t := strings.TrimSpace(q.Text); t != "" {
		v.Set("q", t)
	}
	f := q.Filters
	if l := strings.TrimSpace(f.Location); l != "" {
		v.Set("location", l)
	}
	if programs := f.ProgramList(); len(programs) > 0 {
		v.Set("programs", strings.Join(programs, ","))
	}
	if facilities := f.FacilityList(); len(facilities) > 0 {
		v.Set("facilities", strings.Join(facilities, ","))
	}
	if f.MinRating != nil {
		v.Set("min_rating", strconv.FormatFloat(*f.MinRating, 'f', -1, 64))
	}
	if f.MaxFees != nil {
		v.Set("max_fees", strconv.FormatInt(*f.MaxFees, 10))
	}
	return v
}

// ParseSearchValues decodes a search query from URL values. It is the
// inverse of SearchValues; malformed numbers are ignored.
func ParseSearchValues(v url.Values) Query {
	q := Query{Text: v.Get("q"), Filters: NewFilters()}
	q.Filters.Location = v.Get("location")
	for _, program := range splitList(v.Get("programs")) {
		q.Filters.Programs.Add(program)
	}
	for _, facility := range splitList(v.Get("facilities")) {
		q.Filters.Facilities.Add(facility)
	}
	if r, err := strconv.ParseFloat(v.Get("min_rating"), 64); err == nil {
		q.Filters.MinRating = &r
	}
	if f, err := strconv.ParseInt(v.Get("max_fees"), 10, 64); err == nil {
		q.Filters.MaxFees = &f
	}
	return q
}

// ParseListValues decodes listing parameters from URL values.
func ParseListValues(v url.Values) ListParams {
	p := ListParams{
		Search:     v.Get("search"),
		Province:   v.Get("province"),
		Program:    v.Get("program"),
		Facilities: splitList(v.Get("facilities")),
		Sort:       v.Get("sort"),
	}
	p.Page, _ = strconv.Atoi(v.Get("page"))
	p.Limit, _ = strconv.Atoi(v.Get("limit"))
	if r, err := strconv.ParseFloat(v.Get("min_rating"), 64); err == nil {
		p.MinRating = &r
	}
	if f, err := strconv.ParseInt(v.Get("max_fees"), 10, 64); err == nil {
		p.MaxFees = &f
	}
	return p.Normalize()
}

// Query converts listing parameters into the equivalent search query.
// Province and program are folded into the location and program filters.
func (p ListParams) Query() Query {
	p = p.Normalize()
	q := Query{Text: p.Search, Filters: NewFilters()}
	q.Filters.Location = p.Province
	if p.Program != "" {
		q.Filters.Programs.Add(p.Program)
	}
	for _, facility := range p.Facilities {
		q.Filters.Facilities.Add(facility)
	}
	q.Filters.MinRating = p.MinRating
	q.Filters.MaxFees = p.MaxFees
	return q
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
