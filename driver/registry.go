package driver

import (
	"github.com/mrlite/mapreduce-lite/mrlite"
	"github.com/mrlite/mapreduce-lite/registry"
)

// Mappers, IncrementalReducers, and BatchReducers are the three
// process-wide name->factory registries spec.md 9 calls for, one per
// job-role variant, populated by a user package's init() (e.g.
// examples/wordcount registers itself under "wordcount").
var (
	Mappers             = registry.New[mrlite.Mapper]()
	IncrementalReducers = registry.New[mrlite.IncrementalReducer]()
	BatchReducers       = registry.New[mrlite.BatchReducer]()
)
