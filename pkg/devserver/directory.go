package devserver

import (
	"cmp"
	_ "embed"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/portal-pesantren/portal-sub001/pkg/dataset"
	"github.com/portal-pesantren/portal-sub001/pkg/pesantren"
)

//go:embed seed.yaml
var defaultSeed []byte

// DefaultSeed returns the bundled development listings.
func DefaultSeed() ([]pesantren.Pesantren, error) {
	items, err := dataset.ParseSeed(defaultSeed)
	if err != nil {
		return nil, fmt.Errorf("parsing bundled seed: %w", err)
	}
	return items, nil
}

// directory holds listings in insertion order plus the about page.
type directory struct {
	now func() time.Time

	mu    sync.RWMutex
	order []string
	items map[string]pesantren.Pesantren
	about pesantren.About
}

func newDirectory(now func() time.Time) *directory {
	return &directory{
		now:   now,
		items: make(map[string]pesantren.Pesantren),
		about: defaultAbout(),
	}
}

func (d *directory) load(items []pesantren.Pesantren) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range items {
		if _, exists := d.items[p.ID]; !exists {
			d.order = append(d.order, p.ID)
		}
		d.items[p.ID] = p.Clone()
	}
}

func (d *directory) all() []pesantren.Pesantren {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]pesantren.Pesantren, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.items[id].Clone())
	}
	return out
}

func (d *directory) get(id string) (pesantren.Pesantren, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.items[id]
	return p.Clone(), ok
}

func (d *directory) update(id string, patch pesantren.Patch) (pesantren.Pesantren, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.items[id]
	if !ok {
		return pesantren.Pesantren{}, false
	}
	p = patch.Apply(p)
	p.UpdatedAt = d.now().UTC()
	d.items[id] = p
	return p.Clone(), true
}

func (d *directory) getAbout() pesantren.About {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.about
}

func (d *directory) setAbout(about pesantren.About) pesantren.About {
	about.UpdatedAt = d.now().UTC()
	d.mu.Lock()
	d.about = about
	d.mu.Unlock()
	return about
}

// list filters, sorts and paginates the listings.
func (d *directory) list(p pesantren.ListParams) pesantren.Page {
	p = p.Normalize()
	items := pesantren.Filter(d.all(), p.Query())
	sortListings(items, p.Sort)

	total := len(items)
	start := min((p.Page-1)*p.Limit, total)
	end := min(start+p.Limit, total)
	return pesantren.Page{
		Items: items[start:end],
		Pagination: pesantren.Pagination{
			Page:       p.Page,
			Limit:      p.Limit,
			Total:      total,
			TotalPages: (total + p.Limit - 1) / p.Limit,
		},
	}
}

func (d *directory) search(q pesantren.Query, limit int) []pesantren.Pesantren {
	items := pesantren.Filter(d.all(), q)
	slices.SortStableFunc(items, func(a, b pesantren.Pesantren) int {
		return cmp.Compare(b.Rating, a.Rating)
	})
	return truncate(items, limit)
}

func (d *directory) featured(limit int) []pesantren.Pesantren {
	items := slices.DeleteFunc(d.all(), func(p pesantren.Pesantren) bool { return !p.Featured })
	return truncate(items, limit)
}

func (d *directory) popular(limit int) []pesantren.Pesantren {
	items := d.all()
	slices.SortStableFunc(items, func(a, b pesantren.Pesantren) int {
		return cmp.Compare(b.StudentCount, a.StudentCount)
	})
	return truncate(items, limit)
}

func (d *directory) stats() pesantren.Stats {
	items := d.all()
	programs := mapset.NewThreadUnsafeSet[string]()
	provinces := mapset.NewThreadUnsafeSet[string]()
	var students int
	var ratings float64
	for _, p := range items {
		students += p.StudentCount
		ratings += p.Rating
		programs.Append(p.Programs...)
		if p.Province != "" {
			provinces.Add(p.Province)
		}
	}

	stats := pesantren.Stats{
		TotalPesantren: len(items),
		TotalStudents:  students,
		TotalPrograms:  programs.Cardinality(),
		TotalProvinces: provinces.Cardinality(),
	}
	if len(items) > 0 {
		stats.AverageRating = math.Round(ratings/float64(len(items))*10) / 10
	}
	return stats
}

func sortListings(items []pesantren.Pesantren, order string) {
	var fn func(a, b pesantren.Pesantren) int
	switch order {
	case pesantren.SortRating:
		fn = func(a, b pesantren.Pesantren) int { return cmp.Compare(b.Rating, a.Rating) }
	case pesantren.SortName:
		fn = func(a, b pesantren.Pesantren) int { return cmp.Compare(a.Name, b.Name) }
	case pesantren.SortStudents:
		fn = func(a, b pesantren.Pesantren) int { return cmp.Compare(b.StudentCount, a.StudentCount) }
	case pesantren.SortNewest:
		fn = func(a, b pesantren.Pesantren) int { return b.UpdatedAt.Compare(a.UpdatedAt) }
	default:
		return
	}
	slices.SortStableFunc(items, fn)
}

func truncate(items []pesantren.Pesantren, limit int) []pesantren.Pesantren {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func defaultAbout() pesantren.About {
	return pesantren.About{
		Title:       "Tentang Portal Pesantren",
		Subtitle:    "Direktori pondok pesantren di seluruh Indonesia",
		Description: "Portal Pesantren membantu wali santri menemukan pondok pesantren yang sesuai dengan kebutuhan putra dan putrinya.",
		Vision:      "Menjadi rujukan utama informasi pesantren di Indonesia.",
		Mission: []string{
			"Menyajikan informasi pesantren yang akurat dan terkini",
			"Memudahkan wali santri membandingkan program dan biaya",
		},
		Values: []pesantren.CoreValue{
			{Title: "Amanah", Description: "Informasi disajikan dengan jujur dan dapat dipertanggungjawabkan."},
			{Title: "Ukhuwah", Description: "Menghubungkan pesantren dan masyarakat."},
		},
		Contact: pesantren.Contact{
			Email:   "info@portalpesantren.id",
			Phone:   "021-5550123",
			Address: "Jakarta, Indonesia",
		},
	}
}
