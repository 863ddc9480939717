package pesantren

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListParams_Normalize(t *testing.T) {
	p := ListParams{Page: -1, Limit: 1000, Search: " x ", Facilities: []string{"b", "a"}}.Normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, MaxPageSize, p.Limit)
	assert.Equal(t, "x", p.Search)
	assert.Equal(t, []string{"a", "b"}, p.Facilities)

	assert.Equal(t, DefaultPageSize, ListParams{}.Normalize().Limit)
}

func TestListParams_ValuesRoundTrip(t *testing.T) {
	rating := 4.5
	fees := int64(900000)
	in := ListParams{
		Page: 2, Limit: 10, Search: "hikmah", Province: "Jawa Barat",
		Program: "Tahfidz", MinRating: &rating, MaxFees: &fees,
		Facilities: []string{"Masjid", "Asrama"}, Sort: SortRating,
	}

	out := ParseListValues(in.Values())
	assert.Equal(t, in.Normalize(), out)
}

func TestSearchValuesRoundTrip(t *testing.T) {
	rating := 4.0
	q := Query{Text: "al", Filters: NewFilters()}
	q.Filters.Location = "Bogor"
	q.Filters.Programs.Add("Tahfidz")
	q.Filters.Facilities.Add("Asrama")
	q.Filters.MinRating = &rating

	got := ParseSearchValues(SearchValues(q))
	assert.Equal(t, q.Params(), got.Params())
}

func TestListParams_Query(t *testing.T) {
	p := ListParams{Province: "Jawa Timur", Program: "Kitab Kuning"}
	q := p.Query()
	assert.Equal(t, []string{"p2"}, ids(Filter(testDataset(), q)))
}
