package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/yosida95/uritemplate/v3"

	"github.com/portal-pesantren/portal-sub001/pkg/pesantren"
)

const (
	pathPesantren = "/pesantren"
	pathSearch    = "/pesantren/search"
	pathFeatured  = "/pesantren/featured"
	pathPopular   = "/pesantren/popular"
	pathStats     = "/pesantren/stats"
	pathAbout     = "/about"
)

var tplPesantrenByID = uritemplate.MustNew("/pesantren/{id}")

// ListPesantren fetches one page of listings.
func (c *Client) ListPesantren(ctx context.Context, params pesantren.ListParams) (pesantren.Page, error) {
	params = params.Normalize()

	var items []pesantren.Pesantren
	env, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   pathPesantren,
		query:  params.Values(),
	}, &items)
	if err != nil {
		return pesantren.Page{}, fmt.Errorf("listing pesantren: %w", err)
	}

	page := pesantren.Page{
		Items: items,
		Pagination: pesantren.Pagination{
			Page:  params.Page,
			Limit: params.Limit,
			Total: len(items),
		},
	}
	if env.Pagination != nil {
		page.Pagination = *env.Pagination
	}
	if page.Pagination.TotalPages == 0 && page.Pagination.Limit > 0 {
		page.Pagination.TotalPages = (page.Pagination.Total + page.Pagination.Limit - 1) / page.Pagination.Limit
	}
	return page, nil
}

// SearchPesantren runs a backend search. limit <= 0 uses the backend default.
func (c *Client) SearchPesantren(ctx context.Context, q pesantren.Query, limit int) ([]pesantren.Pesantren, error) {
	values := pesantren.SearchValues(q)
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}

	var items []pesantren.Pesantren
	if _, err := c.do(ctx, request{method: http.MethodGet, path: pathSearch, query: values}, &items); err != nil {
		return nil, fmt.Errorf("searching pesantren: %w", err)
	}
	return items, nil
}

// GetPesantren fetches one listing by id.
func (c *Client) GetPesantren(ctx context.Context, id string) (pesantren.Pesantren, error) {
	path, err := expandID(id)
	if err != nil {
		return pesantren.Pesantren{}, err
	}

	var p pesantren.Pesantren
	if _, err := c.do(ctx, request{method: http.MethodGet, path: path}, &p); err != nil {
		return pesantren.Pesantren{}, fmt.Errorf("getting pesantren %s: %w", id, err)
	}
	return p, nil
}

// FeaturedPesantren fetches the featured subset.
func (c *Client) FeaturedPesantren(ctx context.Context, limit int) ([]pesantren.Pesantren, error) {
	return c.subset(ctx, pathFeatured, limit)
}

// PopularPesantren fetches the most viewed subset.
func (c *Client) PopularPesantren(ctx context.Context, limit int) ([]pesantren.Pesantren, error) {
	return c.subset(ctx, pathPopular, limit)
}

func (c *Client) subset(ctx context.Context, path string, limit int) ([]pesantren.Pesantren, error) {
	var query url.Values
	if limit > 0 {
		query = url.Values{"limit": {strconv.Itoa(limit)}}
	}

	var items []pesantren.Pesantren
	if _, err := c.do(ctx, request{method: http.MethodGet, path: path, query: query}, &items); err != nil {
		return nil, fmt.Errorf("fetching %s: %w", path, err)
	}
	return items, nil
}

// Stats fetches directory-wide statistics.
func (c *Client) Stats(ctx context.Context) (pesantren.Stats, error) {
	var stats pesantren.Stats
	if _, err := c.do(ctx, request{method: http.MethodGet, path: pathStats}, &stats); err != nil {
		return pesantren.Stats{}, fmt.Errorf("fetching stats: %w", err)
	}
	return stats, nil
}

// UpdatePesantren applies patch to listing id and returns the stored record.
func (c *Client) UpdatePesantren(ctx context.Context, id string, patch pesantren.Patch) (pesantren.Pesantren, error) {
	path, err := expandID(id)
	if err != nil {
		return pesantren.Pesantren{}, err
	}

	var p pesantren.Pesantren
	if _, err := c.do(ctx, request{method: http.MethodPut, path: path, body: patch}, &p); err != nil {
		return pesantren.Pesantren{}, fmt.Errorf("updating pesantren %s: %w", id, err)
	}
	return p, nil
}

// GetAbout fetches the about page content.
func (c *Client) GetAbout(ctx context.Context) (pesantren.About, error) {
	var about pesantren.About
	if _, err := c.do(ctx, request{method: http.MethodGet, path: pathAbout}, &about); err != nil {
		return pesantren.About{}, fmt.Errorf("fetching about content: %w", err)
	}
	return about, nil
}

// UpdateAbout replaces the about page content.
func (c *Client) UpdateAbout(ctx context.Context, about pesantren.About) (pesantren.About, error) {
	var out pesantren.About
	if _, err := c.do(ctx, request{method: http.MethodPut, path: pathAbout, body: about}, &out); err != nil {
		return pesantren.About{}, fmt.Errorf("updating about content: %w", err)
	}
	return out, nil
}

func expandID(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("pesantren id is required")
	}
	vals := uritemplate.Values{}
	vals.Set("id", uritemplate.String(id))
	path, err := tplPesantrenByID.Expand(vals)
	if err != nil {
		return "", fmt.Errorf("expanding path for %q: %w", id, err)
	}
	return path, nil
}
