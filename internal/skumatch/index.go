// Package skumatch is an in-memory SKU-master catalog with a deterministic,
// concurrency-safe matcher. It is one implementation of the catalog lookup
// boundary used by the upsert pipeline.
//
//   - No logging in the library (callers decide how/what to log)
//   - Functional options (Option pattern)
//   - Immutable, read-only catalog after construction (safe for concurrent use)
//   - Deterministic scoring and tie-breaking
//
// A generated SKU present verbatim in the catalog is an exact match with
// confidence 1. Otherwise candidates are scored with Jaccard similarity
// between the query token set and each entry's token set:
// score = |Q ∩ E| / |Q ∪ E|.
package skumatch

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/tbourn/device-intake/internal/sku"
)

// Match methods.
const (
	MethodExact   = "exact"
	MethodJaccard = "jaccard"
)

// Entry is one SKU-master catalog row.
type Entry struct {
	SKU     string
	Brand   string
	Model   string
	Storage string
	Color   string
}

// Query describes the device being matched.
type Query struct {
	GeneratedSKU string
	Brand        string
	Model        string
	Storage      string
	Color        string
}

// Result is the best candidate for a query.
type Result struct {
	SKU        string
	Confidence float64
	Method     string
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	minScore   float64
	stopwords  map[string]struct{}
	maxEntries int
}

func defaultConfig() config {
	return config{
		minScore:   0.2,
		stopwords:  nil,
		maxEntries: 0,
	}
}

// WithMinScore drops candidates scoring below s. Values outside [0,1] are
// ignored.
func WithMinScore(s float64) Option {
	return func(c *config) {
		if s >= 0 && s <= 1 {
			c.minScore = s
		}
	}
}

// WithStopwords removes tokens such as "gb" or "unlocked" from scoring.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithMaxEntries caps the number of catalog rows kept.
func WithMaxEntries(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// ----------------------------------------------------------------------------
// Implementation

type entry struct {
	Entry
	tokens map[string]struct{}
}

// Catalog is an immutable SKU-master index.
type Catalog struct {
	cfg     config
	bySKU   map[string]int
	entries []entry
}

// New builds a Catalog from entries. Entries without a SKU are skipped;
// duplicate SKUs keep the first occurrence.
func New(entries []Entry, opts ...Option) *Catalog {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	c := &Catalog{cfg: cfg, bySKU: make(map[string]int, len(entries))}
	for _, e := range entries {
		e.SKU = strings.ToUpper(strings.TrimSpace(e.SKU))
		if e.SKU == "" {
			continue
		}
		if _, dup := c.bySKU[e.SKU]; dup {
			continue
		}
		toks := entryTokens(e, cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		c.bySKU[e.SKU] = len(c.entries)
		c.entries = append(c.entries, entry{Entry: e, tokens: toks})
		if cfg.maxEntries > 0 && len(c.entries) >= cfg.maxEntries {
			break
		}
	}
	return c
}

// Len returns the number of indexed entries.
func (c *Catalog) Len() int { return len(c.entries) }

// Match returns the best candidate for q. ok is false when nothing scores
// above the configured minimum. The context is accepted for interface
// compatibility with remote catalogs; lookups are in-memory.
func (c *Catalog) Match(ctx context.Context, q Query) (res Result, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return Result{}, false, err
	}
	if len(c.entries) == 0 {
		return Result{}, false, nil
	}
	if s := strings.ToUpper(strings.TrimSpace(q.GeneratedSKU)); s != "" {
		if i, hit := c.bySKU[s]; hit {
			return Result{SKU: c.entries[i].SKU, Confidence: 1, Method: MethodExact}, true, nil
		}
	}

	qTokens := queryTokens(q, c.cfg.stopwords)
	if len(qTokens) == 0 {
		return Result{}, false, nil
	}
	top := c.topK(qTokens, 1)
	if len(top) == 0 {
		return Result{}, false, nil
	}
	return top[0], true, nil
}

// TopK returns up to k candidates ordered by descending score.
func (c *Catalog) TopK(q Query, k int) []Result {
	if k <= 0 {
		k = 3
	}
	return c.topK(queryTokens(q, c.cfg.stopwords), k)
}

func (c *Catalog) topK(qTokens map[string]struct{}, k int) []Result {
	if len(qTokens) == 0 || len(c.entries) == 0 {
		return nil
	}
	qLen := len(qTokens)

	type scored struct {
		sku   string
		score float64
	}
	buf := make([]scored, 0, min(k*4, len(c.entries)))
	for _, e := range c.entries {
		over := overlap(qTokens, e.tokens)
		if over == 0 {
			continue
		}
		union := float64(qLen + len(e.tokens) - over)
		if union <= 0 {
			continue
		}
		score := float64(over) / union
		if score < c.cfg.minScore || score <= 0 {
			continue
		}
		buf = append(buf, scored{sku: e.SKU, score: score})
	}
	if len(buf) == 0 {
		return nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		return buf[a].sku < buf[b].sku
	})

	if k > len(buf) {
		k = len(buf)
	}
	out := make([]Result, k)
	for i := 0; i < k; i++ {
		out[i] = Result{SKU: buf[i].sku, Confidence: buf[i].score, Method: MethodJaccard}
	}
	return out
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

func entryTokens(e Entry, stop map[string]struct{}) map[string]struct{} {
	return tokenize(stop, e.Brand, e.Model, digits(e.Storage), sku.ColorCode(e.Color))
}

func queryTokens(q Query, stop map[string]struct{}) map[string]struct{} {
	return tokenize(stop, q.Brand, q.Model, digits(q.Storage), sku.ColorCode(q.Color))
}

func tokenize(stop map[string]struct{}, fields ...string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range fields {
		if strings.EqualFold(strings.TrimSpace(f), "unknown") {
			continue
		}
		for _, w := range wordRE.FindAllString(strings.ToLower(f), -1) {
			if stop != nil {
				if _, skip := stop[w]; skip {
					continue
				}
			}
			out[w] = struct{}{}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if b.Len() > 0 {
			break
		}
	}
	return b.String()
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}
