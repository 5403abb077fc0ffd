package fitness

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// CatalogHit is one ranked catalog search result.
type CatalogHit struct {
	Exercise CatalogExercise `json:"exercise"`
	Score    float64         `json:"score"`
}

// CatalogIndex provides BM25 keyword search over the exercise catalog. It
// lives in memory and is rebuilt on every start.
type CatalogIndex struct {
	index  bleve.Index
	byName map[string]CatalogExercise
}

// NewCatalogIndex indexes every catalog exercise.
func NewCatalogIndex() (*CatalogIndex, error) {
	index, err := bleve.NewMemOnly(buildCatalogMapping())
	if err != nil {
		return nil, fmt.Errorf("create catalog index: %w", err)
	}

	c := &CatalogIndex{index: index, byName: make(map[string]CatalogExercise, len(catalog))}
	batch := index.NewBatch()
	for _, ex := range catalog {
		c.byName[ex.Name] = ex
		equipment := ex.Equipment
		if equipment == "" {
			equipment = "bodyweight"
		}
		doc := map[string]any{
			"name":      ex.Name,
			"focus":     ex.Focus,
			"equipment": equipment,
			"text":      ex.Name + " " + strings.Join(ex.Focus, " ") + " " + strings.ReplaceAll(equipment, "_", " "),
		}
		if err := batch.Index(ex.Name, doc); err != nil {
			return nil, fmt.Errorf("index %s: %w", ex.Name, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("index catalog: %w", err)
	}
	return c, nil
}

// buildCatalogMapping analyzes names and free text; focus and equipment are
// exact-match filters.
func buildCatalogMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	exMapping := bleve.NewDocumentMapping()

	nameField := bleve.NewTextFieldMapping()
	nameField.Analyzer = standard.Name
	exMapping.AddFieldMappingsAt("name", nameField)

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = false
	exMapping.AddFieldMappingsAt("text", textField)

	focusField := bleve.NewTextFieldMapping()
	focusField.Analyzer = keyword.Name
	exMapping.AddFieldMappingsAt("focus", focusField)

	equipmentField := bleve.NewTextFieldMapping()
	equipmentField.Analyzer = keyword.Name
	exMapping.AddFieldMappingsAt("equipment", equipmentField)

	indexMapping.DefaultMapping = exMapping
	return indexMapping
}

// Search ranks exercises matching text, optionally restricted to one focus
// area and to exercises the listed equipment allows. Bodyweight exercises
// always pass the equipment filter. An empty text matches everything.
func (c *CatalogIndex) Search(text, focus string, equipment []string, k int) ([]CatalogHit, error) {
	if k <= 0 {
		k = 10
	}

	var main query.Query
	if text = strings.TrimSpace(text); text != "" {
		nameQuery := bleve.NewMatchQuery(text)
		nameQuery.SetField("name")
		nameQuery.SetBoost(2)
		textQuery := bleve.NewMatchQuery(text)
		textQuery.SetField("text")
		main = bleve.NewDisjunctionQuery(nameQuery, textQuery)
	} else {
		main = bleve.NewMatchAllQuery()
	}
	conj := bleve.NewConjunctionQuery(main)

	if focus = strings.ToLower(strings.TrimSpace(focus)); focus != "" {
		fq := bleve.NewTermQuery(focus)
		fq.SetField("focus")
		conj.AddQuery(fq)
	}
	if len(equipment) > 0 {
		eq := bleve.NewDisjunctionQuery()
		for _, e := range append([]string{"bodyweight"}, equipment...) {
			tq := bleve.NewTermQuery(normalizeEquipment(e))
			tq.SetField("equipment")
			eq.AddQuery(tq)
		}
		conj.AddQuery(eq)
	}

	req := bleve.NewSearchRequest(conj)
	req.Size = k
	res, err := c.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("catalog search failed: %w", err)
	}

	hits := make([]CatalogHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		if ex, ok := c.byName[h.ID]; ok {
			hits = append(hits, CatalogHit{Exercise: ex, Score: h.Score})
		}
	}
	return hits, nil
}

func (c *CatalogIndex) Close() error {
	return c.index.Close()
}
