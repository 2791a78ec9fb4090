package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/barcodedrop/barcodedrop-server/internal/search"
)

func (s *Server) registerSearchRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "searchScans",
		Method:      http.MethodGet,
		Path:        "/search",
		Summary:     "Search scans",
		Description: "Full-text search over barcodes, optionally restricted to one user",
		Tags:        []string{"Search"},
	}, s.handleSearch)
}

// SearchInput contains parameters for searching scans.
type SearchInput struct {
	Q      string `query:"q" maxLength:"200" doc:"Barcode text; empty lists everything"`
	User   string `query:"user" doc:"Restrict to one user"`
	Limit  int    `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Max results"`
	Offset int    `query:"offset" minimum:"0" doc:"Pagination offset"`
	Sort   string `query:"sort" enum:"relevance,recent" default:"relevance" doc:"Sort order"`
	Facets bool   `query:"facets" doc:"Include per-user hit counts"`
}

// SearchOutput contains search results.
type SearchOutput struct {
	Body *search.SearchResult
}

func (s *Server) handleSearch(ctx context.Context, input *SearchInput) (*SearchOutput, error) {
	result, err := s.scans.Search(ctx, search.SearchParams{
		Query:         input.Q,
		User:          input.User,
		Limit:         input.Limit,
		Offset:        input.Offset,
		SortBy:        input.Sort,
		IncludeFacets: input.Facets,
		Highlight:     input.Q != "",
	})
	if err != nil {
		return nil, err
	}
	return &SearchOutput{Body: result}, nil
}
