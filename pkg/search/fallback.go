package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/portal-pesantren/portal-sub001/pkg/pesantren"
)

// FallbackNotice is shown while results come from the local dataset.
const FallbackNotice = "Menampilkan hasil offline karena server tidak dapat dijangkau"

// Origin says where a result came from.
type Origin string

// Result origins.
const (
	OriginPrimary  Origin = "primary"
	OriginFallback Origin = "fallback"
)

// Result is one resolved search.
type Result struct {
	Query  pesantren.Query
	Items  []pesantren.Pesantren
	Origin Origin

	// Notice is set for fallback results.
	Notice string

	// Err is the primary failure a fallback result replaced.
	Err error

	// Generation is the coordinator generation that produced the result.
	Generation uint64
}

// SearchFunc performs a backend search.
type SearchFunc func(ctx context.Context, q pesantren.Query, limit int) ([]pesantren.Pesantren, error)

// Dataset is the local data searched when the backend fails.
type Dataset interface {
	All(ctx context.Context) ([]pesantren.Pesantren, error)
}

// Resolver resolves one query.
type Resolver interface {
	Resolve(ctx context.Context, q pesantren.Query) (Result, error)
}

// FallbackResolver queries the backend and, on any failure other than
// cancellation, filters the local dataset with the same predicates.
type FallbackResolver struct {
	primary SearchFunc
	local   Dataset
	limit   int
}

// NewFallbackResolver creates a resolver. limit <= 0 leaves result size to
// the backend and does not truncate fallback results.
func NewFallbackResolver(primary SearchFunc, local Dataset, limit int) *FallbackResolver {
	return &FallbackResolver{primary: primary, local: local, limit: limit}
}

// Resolve implements Resolver. An empty query resolves to an empty
// primary result without calling the backend.
func (r *FallbackResolver) Resolve(ctx context.Context, q pesantren.Query) (Result, error) {
	if q.IsZero() {
		return Result{Query: q, Origin: OriginPrimary}, nil
	}

	items, err := r.primary(ctx, q, r.limit)
	if err == nil {
		return Result{Query: q, Items: items, Origin: OriginPrimary}, nil
	}
	if isCancellation(ctx, err) {
		return Result{}, err
	}

	slog.Warn("search: backend failed, using local dataset", "query", q.Text, "error", err)
	if r.local == nil {
		return Result{}, fmt.Errorf("searching without local dataset: %w", err)
	}
	all, lerr := r.local.All(ctx)
	if lerr != nil {
		return Result{}, fmt.Errorf("reading local dataset: %w", errors.Join(lerr, err))
	}
	matched := pesantren.Filter(all, q)
	if r.limit > 0 && len(matched) > r.limit {
		matched = matched[:r.limit]
	}
	return Result{
		Query:  q,
		Items:  matched,
		Origin: OriginFallback,
		Notice: FallbackNotice,
		Err:    err,
	}, nil
}

func isCancellation(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)
}

// Verify interface compliance.
var _ Resolver = (*FallbackResolver)(nil)
