// Package registry provides module registries for sources, record filters,
// value transforms and sinks.
//
// # Overview
//
// Modules register their constructors by type string instead of being
// hard-coded in the factory. Adding a module type does not require touching
// the factory: implement the interface, write a constructor, and register it
// from an init() function.
//
//	func init() {
//	    registry.RegisterValue("katakana", func(cfg connector.ModuleConfig, env *registry.Env) (filter.ValueFilter, error) {
//	        return NewKatakana(), nil
//	    })
//	}
//
// # Built-in Modules
//
// Built-in modules are registered in builtins.go. Unknown types are
// configuration errors; there is no fallback.
package registry

import (
	"slices"
	"sync"

	"github.com/canectors/normalizer/internal/modules/filter"
	"github.com/canectors/normalizer/internal/modules/input"
	"github.com/canectors/normalizer/internal/modules/output"
	"github.com/canectors/normalizer/internal/names"
	"github.com/canectors/normalizer/pkg/connector"
	"github.com/canectors/normalizer/pkg/record"
)

// Env carries the pipeline-level settings a constructor may need.
type Env struct {
	// BaseDir resolves relative paths (the configuration file's directory).
	BaseDir string
	// Columns is the pipeline vocabulary; empty means open.
	Columns []record.Column
	// KeyColumn identifies records in errors and is the default veto column.
	KeyColumn record.Column
	// Unknown is the default sentinel for transforms that emit one.
	Unknown string
	// Names holds the pipeline dictionaries, nil when none are configured.
	Names *names.Set
}

// SourceConstructor creates a source from configuration.
type SourceConstructor func(cfg connector.ModuleConfig, env *Env) (input.Source, error)

// FilterConstructor creates a record transform from configuration.
type FilterConstructor func(cfg connector.ModuleConfig, env *Env) (filter.Module, error)

// ValueConstructor creates a value transform from configuration.
type ValueConstructor func(cfg connector.ModuleConfig, env *Env) (filter.ValueFilter, error)

// SinkConstructor creates a sink from configuration.
type SinkConstructor func(cfg connector.ModuleConfig, env *Env) (output.Sink, error)

var (
	sourceMu       sync.RWMutex
	sourceRegistry = make(map[string]SourceConstructor)
)

var (
	filterMu       sync.RWMutex
	filterRegistry = make(map[string]FilterConstructor)
)

var (
	valueMu       sync.RWMutex
	valueRegistry = make(map[string]ValueConstructor)
)

var (
	sinkMu       sync.RWMutex
	sinkRegistry = make(map[string]SinkConstructor)
)

// RegisterSource registers a source constructor by type string. Registering
// an existing type overwrites the previous constructor.
func RegisterSource(moduleType string, constructor SourceConstructor) {
	sourceMu.Lock()
	defer sourceMu.Unlock()
	sourceRegistry[moduleType] = constructor
}

// RegisterFilter registers a record transform constructor by type string.
func RegisterFilter(moduleType string, constructor FilterConstructor) {
	filterMu.Lock()
	defer filterMu.Unlock()
	filterRegistry[moduleType] = constructor
}

// RegisterValue registers a value transform constructor by type string.
func RegisterValue(moduleType string, constructor ValueConstructor) {
	valueMu.Lock()
	defer valueMu.Unlock()
	valueRegistry[moduleType] = constructor
}

// RegisterSink registers a sink constructor by type string.
func RegisterSink(moduleType string, constructor SinkConstructor) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sinkRegistry[moduleType] = constructor
}

// GetSourceConstructor returns the constructor for a source type, or nil.
func GetSourceConstructor(moduleType string) SourceConstructor {
	sourceMu.RLock()
	defer sourceMu.RUnlock()
	return sourceRegistry[moduleType]
}

// GetFilterConstructor returns the constructor for a record transform type, or nil.
func GetFilterConstructor(moduleType string) FilterConstructor {
	filterMu.RLock()
	defer filterMu.RUnlock()
	return filterRegistry[moduleType]
}

// GetValueConstructor returns the constructor for a value transform type, or nil.
func GetValueConstructor(moduleType string) ValueConstructor {
	valueMu.RLock()
	defer valueMu.RUnlock()
	return valueRegistry[moduleType]
}

// GetSinkConstructor returns the constructor for a sink type, or nil.
func GetSinkConstructor(moduleType string) SinkConstructor {
	sinkMu.RLock()
	defer sinkMu.RUnlock()
	return sinkRegistry[moduleType]
}

// ListSourceTypes returns the registered source types, sorted.
func ListSourceTypes() []string {
	sourceMu.RLock()
	defer sourceMu.RUnlock()
	return sortedKeys(sourceRegistry)
}

// ListFilterTypes returns the registered record transform types, sorted.
func ListFilterTypes() []string {
	filterMu.RLock()
	defer filterMu.RUnlock()
	return sortedKeys(filterRegistry)
}

// ListValueTypes returns the registered value transform types, sorted.
func ListValueTypes() []string {
	valueMu.RLock()
	defer valueMu.RUnlock()
	return sortedKeys(valueRegistry)
}

// ListSinkTypes returns the registered sink types, sorted.
func ListSinkTypes() []string {
	sinkMu.RLock()
	defer sinkMu.RUnlock()
	return sortedKeys(sinkRegistry)
}

func sortedKeys[T any](m map[string]T) []string {
	types := make([]string, 0, len(m))
	for t := range m {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// ClearRegistries removes all registered constructors.
// This is intended for testing purposes only.
func ClearRegistries() {
	sourceMu.Lock()
	sourceRegistry = make(map[string]SourceConstructor)
	sourceMu.Unlock()

	filterMu.Lock()
	filterRegistry = make(map[string]FilterConstructor)
	filterMu.Unlock()

	valueMu.Lock()
	valueRegistry = make(map[string]ValueConstructor)
	valueMu.Unlock()

	sinkMu.Lock()
	sinkRegistry = make(map[string]SinkConstructor)
	sinkMu.Unlock()
}

// RegisterBuiltins registers the built-in modules again, typically after
// ClearRegistries in tests.
func RegisterBuiltins() {
	registerBuiltinSources()
	registerBuiltinFilters()
	registerBuiltinValues()
	registerBuiltinSinks()
}
