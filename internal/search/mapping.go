package search

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// buildIndexMapping creates the Bleve index mapping for scan documents.
//
//   - barcode: standard analyzer, stored, term vectors for highlighting
//   - barcode_exact: keyword analyzer for exact and prefix matches
//   - user: keyword, stored, facetable
//   - date: numeric unix millis, stored, sortable
func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = standard.Name

	docMapping := bleve.NewDocumentMapping()

	barcodeFieldMapping := bleve.NewTextFieldMapping()
	barcodeFieldMapping.Analyzer = standard.Name
	barcodeFieldMapping.Store = true
	barcodeFieldMapping.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt("barcode", barcodeFieldMapping)

	exactFieldMapping := bleve.NewTextFieldMapping()
	exactFieldMapping.Analyzer = keyword.Name
	exactFieldMapping.Store = false
	docMapping.AddFieldMappingsAt("barcode_exact", exactFieldMapping)

	userFieldMapping := bleve.NewTextFieldMapping()
	userFieldMapping.Analyzer = keyword.Name
	userFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("user", userFieldMapping)

	idFieldMapping := bleve.NewTextFieldMapping()
	idFieldMapping.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt("id", idFieldMapping)

	dateFieldMapping := bleve.NewNumericFieldMapping()
	dateFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("date", dateFieldMapping)

	indexMapping.AddDocumentMapping("_default", docMapping)

	return indexMapping
}
