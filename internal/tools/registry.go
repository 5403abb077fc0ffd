package tools

import (
	"github.com/ChamsBouzaiene/spotter/internal/engine"
	"github.com/ChamsBouzaiene/spotter/internal/fitness"
	"github.com/ChamsBouzaiene/spotter/internal/tools/control"
	"github.com/ChamsBouzaiene/spotter/internal/tools/workout"
)

// ToolSet selects which tool groups are registered. Control tools are
// always present.
type ToolSet struct {
	Workout bool
	Search  bool // search_exercises over the in-memory catalog index
}

// DefaultToolSet enables every group.
func DefaultToolSet() ToolSet {
	return ToolSet{Workout: true, Search: true}
}

// NewToolRegistry creates the coach's engine.ToolRegistry. Control tools are
// registered first so their position in the tool list never changes.
func NewToolRegistry(svc fitness.Service, set ToolSet) (*engine.ToolRegistry, error) {
	list := control.Tools()
	if set.Workout && svc != nil {
		var idx *fitness.CatalogIndex
		if set.Search {
			var err error
			if idx, err = fitness.NewCatalogIndex(); err != nil {
				return nil, err
			}
		}
		list = append(list, workout.Tools(svc, idx)...)
	}
	return engine.NewToolRegistry(list...)
}
