// Package search runs the bounded web searches behind the research stage.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/wateraudit/internal/schema"
)

var (
	// ErrSearchLimit is returned once a Budget has spent its calls.
	ErrSearchLimit = errors.New("search: call limit reached")
	// ErrNoResults is returned when every bucket came back empty.
	ErrNoResults = errors.New("search: no results")
)

// Searcher runs one web search for a research bucket.
type Searcher interface {
	Search(ctx context.Context, category schema.Category, query string) ([]schema.SearchHit, error)
}

// Budget caps the number of calls made through a Searcher within one run.
type Budget struct {
	next Searcher
	max  int
	used int
}

// NewBudget wraps s so that at most max calls reach it.
func NewBudget(s Searcher, max int) *Budget {
	return &Budget{next: s, max: max}
}

// Search forwards to the wrapped Searcher, or returns ErrSearchLimit without
// calling it once the cap is reached.
func (b *Budget) Search(ctx context.Context, category schema.Category, query string) ([]schema.SearchHit, error) {
	if b.used >= b.max {
		return nil, fmt.Errorf("%w (%d)", ErrSearchLimit, b.max)
	}
	b.used++
	return b.next.Search(ctx, category, query)
}

// Used returns the number of calls spent.
func (b *Budget) Used() int { return b.used }

// Query builds the search query for one bucket from the diagnosis and the
// water source. Queries stay generic; no location terms are added.
func Query(category schema.Category, d *schema.Diagnosis, uc schema.UserContext) string {
	subject := causeTerms(d)
	source := "drinking"
	if uc.SourceType != "" && uc.SourceType != "Other" {
		source = strings.ToLower(string(uc.SourceType))
	}
	switch category {
	case schema.CategoryDIY:
		return fmt.Sprintf("DIY water purification methods %s contamination %s water", subject, source)
	case schema.CategoryGuidelines:
		return fmt.Sprintf("water safety and hygiene guidelines %s contamination", subject)
	case schema.CategoryAdvisories:
		return fmt.Sprintf("NGO public health advisory contaminated %s water %s", source, subject)
	case schema.CategoryFilters:
		return fmt.Sprintf("water filter reviews recommendations %s contamination", subject)
	default:
		return fmt.Sprintf("%s water safety", subject)
	}
}

// causeTerms joins the distinct cause types, lower-cased, for use in a query.
func causeTerms(d *schema.Diagnosis) string {
	if d == nil {
		return "water"
	}
	var terms []string
	seen := map[string]bool{}
	for _, c := range d.Causes {
		t := strings.ToLower(strings.TrimSpace(c.Type))
		if t != "" && !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	if len(terms) == 0 {
		return strings.ToLower(string(d.Severity)) + " risk"
	}
	return strings.Join(terms, " ")
}

// Collect runs one search per bucket, in bucket order, and returns the hits
// with duplicate URLs removed. The first bucket to return a URL keeps it.
func Collect(ctx context.Context, s Searcher, d *schema.Diagnosis, uc schema.UserContext) ([]schema.SearchHit, error) {
	log := zap.L().With(zap.String("component", "search"))
	var out []schema.SearchHit
	seen := map[string]bool{}
	for _, c := range schema.Categories {
		q := Query(c, d, uc)
		hits, err := s.Search(ctx, c, q)
		if err != nil {
			return nil, fmt.Errorf("search: %s: %w", c, err)
		}
		kept := 0
		for _, h := range hits {
			key := strings.TrimRight(h.URL, "/")
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			h.Category = c
			out = append(out, h)
			kept++
		}
		log.Debug("search: bucket complete",
			zap.String("category", string(c)),
			zap.String("query", q),
			zap.Int("results", len(hits)),
			zap.Int("kept", kept),
		)
	}
	if len(out) == 0 {
		return nil, ErrNoResults
	}
	return out, nil
}
