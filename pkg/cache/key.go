package cache

import (
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	mapset "github.com/deckarep/golang-set/v2"
)

// Key identifies a cache entry by entity kind and request parameters.
// Two keys built from the same parameters compare equal regardless of
// map iteration order or list member order.
type Key struct {
	Kind      string
	canonical string
	digest    uint64
}

// NewKey builds a key from kind and params. Nil values, empty strings and
// empty lists are dropped; list members are sorted.
func NewKey(kind string, params map[string]any) Key {
	names := make([]string, 0, len(params))
	for name, v := range params {
		if !isEmpty(v) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(kind)
	for i, name := range names {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(formatValue(params[name]))
	}

	canonical := b.String()
	return Key{
		Kind:      kind,
		canonical: canonical,
		digest:    xxhash.Sum64String(canonical),
	}
}

// String returns the canonical form, e.g. "listing?limit=10&page=1".
func (k Key) String() string {
	if k.canonical == "" {
		return k.Kind
	}
	return k.canonical
}

// Digest returns the 64-bit hash of the canonical form.
func (k Key) Digest() uint64 {
	return k.digest
}

// ID returns the digest as a fixed-width hex string.
func (k Key) ID() string {
	return fmt.Sprintf("%016x", k.digest)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []string:
		return len(t) == 0
	case mapset.Set[string]:
		return t == nil || t.Cardinality() == 0
	case *float64:
		return t == nil
	case *int64:
		return t == nil
	case *int:
		return t == nil
	case *string:
		return t == nil || *t == ""
	default:
		return false
	}
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return url.QueryEscape(strings.TrimSpace(t))
	case []string:
		return formatList(t)
	case mapset.Set[string]:
		return formatList(t.ToSlice())
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case *float64:
		return strconv.FormatFloat(*t, 'g', -1, 64)
	case *int64:
		return strconv.FormatInt(*t, 10)
	case *int:
		return strconv.Itoa(*t)
	case *string:
		return url.QueryEscape(*t)
	case fmt.Stringer:
		return url.QueryEscape(t.String())
	default:
		return url.QueryEscape(fmt.Sprint(t))
	}
}

func formatList(items []string) string {
	sorted := slices.Clone(items)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	for i, s := range sorted {
		sorted[i] = url.QueryEscape(s)
	}
	return strings.Join(sorted, ",")
}
