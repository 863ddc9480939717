package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/portal-pesantren/portal-sub001/pkg/cache"
	"github.com/portal-pesantren/portal-sub001/pkg/pesantren"
)

// UpdatePesantren sends patch to the backend. On success the detail entry
// is replaced with the stored record and every cached list holding id is
// patched in place; stats are marked stale.
func (c *Catalog) UpdatePesantren(ctx context.Context, id string, patch pesantren.Patch) (pesantren.Pesantren, error) {
	updated, err := c.backend.UpdatePesantren(ctx, id, patch)
	if err != nil {
		return pesantren.Pesantren{}, fmt.Errorf("updating pesantren: %w", err)
	}
	if updated.ID == "" {
		updated.ID = id
	}

	c.cache.Set(DetailKey(id), updated, c.windows.Detail)
	n := c.replace(id, func(pesantren.Pesantren) pesantren.Pesantren { return updated.Clone() })
	c.cache.InvalidateKind(KindStats)
	c.feed(ctx, updated)

	slog.Debug("catalog: pesantren updated", "id", id, "lists_patched", n)
	return updated, nil
}

// UpdatePesantrenInCache applies patch to every cached copy of id without
// calling the backend. It returns how many entries changed.
func (c *Catalog) UpdatePesantrenInCache(id string, patch pesantren.Patch) int {
	if patch.IsZero() {
		return 0
	}
	n := 0
	if c.cache.Update(DetailKey(id), func(v any) (any, bool) {
		p, ok := v.(pesantren.Pesantren)
		if !ok {
			return nil, false
		}
		return patch.Apply(p), true
	}) {
		n++
	}
	return n + c.replace(id, patch.Apply)
}

// replace rewrites the item with id in every cached list and returns how
// many entries changed.
func (c *Catalog) replace(id string, fn func(pesantren.Pesantren) pesantren.Pesantren) int {
	n := 0
	for _, kind := range listKinds {
		n += c.cache.UpdateKind(kind, func(_ cache.Key, v any) (any, bool) {
			page, ok := v.(pesantren.Page)
			if !ok {
				return nil, false
			}
			i := page.IndexOf(id)
			if i < 0 {
				return nil, false
			}
			page.Items = slices.Clone(page.Items)
			page.Items[i] = fn(page.Items[i])
			return page, true
		})
	}
	for _, kind := range sliceKinds {
		n += c.cache.UpdateKind(kind, func(_ cache.Key, v any) (any, bool) {
			items, ok := v.([]pesantren.Pesantren)
			if !ok {
				return nil, false
			}
			i := slices.IndexFunc(items, func(p pesantren.Pesantren) bool { return p.ID == id })
			if i < 0 {
				return nil, false
			}
			items = slices.Clone(items)
			items[i] = fn(items[i])
			return items, true
		})
	}
	return n
}

// UpdateAbout replaces the about content and stores the result.
func (c *Catalog) UpdateAbout(ctx context.Context, about pesantren.About) (pesantren.About, error) {
	updated, err := c.backend.UpdateAbout(ctx, about)
	if err != nil {
		return pesantren.About{}, fmt.Errorf("updating about content: %w", err)
	}
	c.cache.Set(cache.NewKey(KindAbout, nil), updated, c.windows.About)
	return updated, nil
}

// InvalidateListings marks every list kind stale.
func (c *Catalog) InvalidateListings() {
	for _, kind := range append(slices.Clone(listKinds), sliceKinds...) {
		c.cache.InvalidateKind(kind)
	}
}

// InvalidateDetail marks one detail entry stale.
func (c *Catalog) InvalidateDetail(id string) {
	c.cache.Invalidate(DetailKey(id))
}

// InvalidateStats marks stats stale.
func (c *Catalog) InvalidateStats() {
	c.cache.InvalidateKind(KindStats)
}

// InvalidateAbout marks the about content stale.
func (c *Catalog) InvalidateAbout() {
	c.cache.InvalidateKind(KindAbout)
}

// InvalidateAll marks every entry stale.
func (c *Catalog) InvalidateAll() {
	c.cache.InvalidateAll()
}
