package search

import (
	"context"
	"fmt"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Sort orders.
const (
	SortRelevance = "relevance"
	SortRecent    = "recent"
)

// SearchParams configures a search query.
type SearchParams struct {
	Query string // Text to look for in barcodes; empty matches everything
	User  string // Restrict to one user

	Limit  int
	Offset int

	// SortBy is relevance or recent. Relevance without a query falls back to recent.
	SortBy string

	IncludeFacets bool // Count hits per user
	Highlight     bool
}

// DefaultSearchParams returns sensible defaults.
func DefaultSearchParams() SearchParams {
	return SearchParams{
		Limit:  20,
		SortBy: SortRelevance,
	}
}

// SearchResult represents the search results.
type SearchResult struct {
	Query  string       `json:"query"`
	Total  uint64       `json:"total"`
	TookMs int64        `json:"took_ms"`
	Hits   []SearchHit  `json:"hits"`
	Users  []FacetCount `json:"users,omitempty"`
}

// SearchHit represents a single search result.
type SearchHit struct {
	ID         string    `json:"id"`
	Barcode    string    `json:"barcode"`
	User       string    `json:"user,omitempty"`
	Date       time.Time `json:"date"`
	Score      float64   `json:"score"`
	Highlights []string  `json:"highlights,omitempty"`
}

// FacetCount represents a facet value and its count.
type FacetCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Search executes a search query.
func (s *SearchIndex) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	if params.Limit <= 0 {
		params.Limit = DefaultSearchParams().Limit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	req := bleve.NewSearchRequestOptions(buildSearchQuery(params), params.Limit, params.Offset, false)

	if params.SortBy == SortRecent || params.Query == "" {
		req.SortBy([]string{"-date", "-_id"})
	} else {
		req.SortBy([]string{"-_score", "-date"})
	}

	if params.IncludeFacets {
		req.AddFacet("user", bleve.NewFacetRequest("user", 20))
	}
	if params.Highlight && params.Query != "" {
		req.Highlight = bleve.NewHighlight()
		req.Highlight.AddField("barcode")
	}

	req.Fields = []string{"barcode", "user", "date"}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}

	result := &SearchResult{
		Query:  params.Query,
		Total:  res.Total,
		TookMs: res.Took.Milliseconds(),
		Hits:   make([]SearchHit, 0, len(res.Hits)),
	}

	for _, hit := range res.Hits {
		h := SearchHit{ID: hit.ID, Score: hit.Score}
		if b, ok := hit.Fields["barcode"].(string); ok {
			h.Barcode = b
		}
		if u, ok := hit.Fields["user"].(string); ok {
			h.User = u
		}
		if d, ok := hit.Fields["date"].(float64); ok {
			h.Date = time.UnixMilli(int64(d)).UTC()
		}
		if frags := hit.Fragments["barcode"]; len(frags) > 0 {
			h.Highlights = frags
		}
		result.Hits = append(result.Hits, h)
	}

	if facet, ok := res.Facets["user"]; ok && facet.Terms != nil {
		for _, term := range facet.Terms.Terms() {
			result.Users = append(result.Users, FacetCount{Value: term.Term, Count: term.Count})
		}
	}

	return result, nil
}

// buildSearchQuery constructs the Bleve query from params.
//
// Text matching combines, best first: the exact barcode, a barcode prefix
// (partial numeric codes), analyzed words (QR and URL payloads) and a
// one-edit fuzzy word match for typos.
func buildSearchQuery(params SearchParams) query.Query {
	var queries []query.Query

	if params.Query != "" {
		exact := bleve.NewTermQuery(params.Query)
		exact.SetField("barcode_exact")
		exact.SetBoost(5.0)

		words := bleve.NewMatchQuery(params.Query)
		words.SetField("barcode")
		words.SetBoost(2.0)

		fuzzy := bleve.NewFuzzyQuery(params.Query)
		fuzzy.SetField("barcode")
		fuzzy.SetFuzziness(1)
		fuzzy.SetBoost(0.5)

		text := []query.Query{exact, words, fuzzy}

		if len(params.Query) >= 2 {
			prefix := bleve.NewPrefixQuery(params.Query)
			prefix.SetField("barcode_exact")
			prefix.SetBoost(3.0)
			text = append(text, prefix)
		}

		queries = append(queries, bleve.NewDisjunctionQuery(text...))
	}

	if params.User != "" {
		userQuery := bleve.NewTermQuery(params.User)
		userQuery.SetField("user")
		queries = append(queries, userQuery)
	}

	switch len(queries) {
	case 0:
		return bleve.NewMatchAllQuery()
	case 1:
		return queries[0]
	default:
		return bleve.NewConjunctionQuery(queries...)
	}
}
