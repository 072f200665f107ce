// Package factory assembles runnable pipelines from configuration. Module
// constructors are looked up in the registry by type string; see
// internal/registry to add a module type without modifying this package.
package factory

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/canectors/normalizer/internal/errhandling"
	"github.com/canectors/normalizer/internal/logger"
	"github.com/canectors/normalizer/internal/modules/filter"
	"github.com/canectors/normalizer/internal/modules/input"
	"github.com/canectors/normalizer/internal/modules/output"
	"github.com/canectors/normalizer/internal/names"
	"github.com/canectors/normalizer/internal/pathutil"
	"github.com/canectors/normalizer/internal/registry"
	"github.com/canectors/normalizer/pkg/connector"
	"github.com/canectors/normalizer/pkg/record"
)

// ErrUnknownModuleType is wrapped in the ConfigError returned for a type
// string with no registered constructor.
var ErrUnknownModuleType = errors.New("unknown module type")

// ErrNilPipeline is returned when Build is called without a pipeline.
var ErrNilPipeline = errors.New("pipeline configuration is nil")

// Assembly is a pipeline ready to run: sources, steps and sink in one chain.
type Assembly struct {
	// Chain pulls from the sources on Process(nil) and pushes to the sink.
	Chain *filter.Chain
	// Names is the dictionary set shared by every names transform, or nil.
	Names *names.Set
	// Sink is the last chain member. In dry runs it is a *output.DiscardSink.
	Sink output.Sink
	// DryRun reports whether the configured sink was replaced.
	DryRun bool
}

type settings struct {
	baseDir string
	dryRun  bool
	noPrune bool
}

// Option configures Build.
type Option func(*settings)

// WithBaseDir sets the directory relative paths are resolved against.
func WithBaseDir(dir string) Option {
	return func(s *settings) { s.baseDir = dir }
}

// WithDryRun replaces the sink with a counting pass-through and opens the
// dictionaries read-only.
func WithDryRun(dryRun bool) Option {
	return func(s *settings) { s.dryRun = dryRun }
}

// WithNoPrune keeps dictionary entries that were not used during the run,
// overriding names.prune.
func WithNoPrune(noPrune bool) Option {
	return func(s *settings) { s.noPrune = noPrune }
}

// Build assembles p into a chain. On failure every module already opened is
// aborted, so no file or connection is left behind.
func Build(p *connector.Pipeline, opts ...Option) (*Assembly, error) {
	if p == nil {
		return nil, ErrNilPipeline
	}
	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}

	env := &registry.Env{
		BaseDir:   s.baseDir,
		Columns:   toColumns(p.Columns),
		KeyColumn: record.Column(p.KeyColumn),
		Unknown:   p.Unknown,
	}

	var built []any
	fail := func(err error) (*Assembly, error) {
		for i := len(built) - 1; i >= 0; i-- {
			if abortErr := filter.AbortModule(built[i]); abortErr != nil {
				logger.Warn("failed to release module after build error", slog.String("error", abortErr.Error()))
			}
		}
		return nil, err
	}

	if p.Names != nil {
		set, err := names.LoadSet(
			pathutil.Resolve(s.baseDir, p.Names.Dir),
			toColumns(p.Names.Columns),
			names.WithPrune(p.Names.Prune && !s.noPrune),
			names.WithReadOnly(s.dryRun),
		)
		if err != nil {
			return nil, err
		}
		env.Names = set
		built = append(built, set)
	}

	sources, err := CreateSources(p.Sources, env)
	if err != nil {
		return fail(err)
	}
	built = append(built, sources)

	b := filter.NewBuilder(filter.WithKeyColumn(env.KeyColumn)).Filter(sources)
	for i, step := range p.Steps {
		if step.Filter != nil {
			m, err := CreateFilter(*step.Filter, env)
			if err != nil {
				return fail(fmt.Errorf("step %d: %w", i, err))
			}
			built = append(built, m)
			b.Filter(m)
			continue
		}

		vfs, err := CreateValueFilters(step.Transforms, env)
		if err != nil {
			return fail(fmt.Errorf("step %d: %w", i, err))
		}
		for _, vf := range vfs {
			built = append(built, vf)
		}
		if step.AllColumns {
			b.AllColumns(vfs...)
		} else {
			b.Columns(toColumns(step.Columns), vfs...)
		}
	}

	var sink output.Sink
	if s.dryRun {
		preview := 0
		if p.DryRunOptions != nil {
			preview = p.DryRunOptions.PreviewRecords
		}
		sink = output.NewDiscard(preview)
	} else {
		if sink, err = CreateSink(p.Sink, env); err != nil {
			return fail(err)
		}
	}
	built = append(built, sink)

	chain, err := b.Filter(sink).Result()
	if err != nil {
		return fail(errhandling.NewConfigError("pipeline "+p.ID, "cannot assemble chain", err))
	}

	logger.Debug("pipeline assembled",
		slog.String("pipeline_id", p.ID),
		slog.Int("sources", len(p.Sources)),
		slog.Int("chain_length", chain.Len()),
		slog.Bool("dry_run", s.dryRun),
	)

	return &Assembly{Chain: chain, Names: env.Names, Sink: sink, DryRun: s.dryRun}, nil
}

// CreateSources creates every source and concatenates them in order.
func CreateSources(cfgs []connector.ModuleConfig, env *registry.Env) (*input.Concat, error) {
	sources := make([]input.Source, 0, len(cfgs))
	for i, cfg := range cfgs {
		constructor := registry.GetSourceConstructor(cfg.Type)
		if constructor == nil {
			abortSources(sources)
			return nil, unknownType("source", cfg.Type)
		}
		src, err := constructor(cfg, env)
		if err != nil {
			abortSources(sources)
			return nil, configError(fmt.Sprintf("source %d (%s)", i, cfg.Type), err)
		}
		sources = append(sources, src)
	}
	concat, err := input.NewConcat(sources...)
	if err != nil {
		abortSources(sources)
		return nil, configError("sources", err)
	}
	return concat, nil
}

func abortSources(sources []input.Source) {
	for _, src := range sources {
		_ = filter.AbortModule(src)
	}
}

// CreateFilter creates a record transform.
func CreateFilter(cfg connector.ModuleConfig, env *registry.Env) (filter.Module, error) {
	constructor := registry.GetFilterConstructor(cfg.Type)
	if constructor == nil {
		return nil, unknownType("filter", cfg.Type)
	}
	m, err := constructor(cfg, env)
	if err != nil {
		return nil, configError("filter "+cfg.Type, err)
	}
	return m, nil
}

// CreateValueFilters creates the value transforms of one step, in order.
func CreateValueFilters(cfgs []connector.ModuleConfig, env *registry.Env) ([]filter.ValueFilter, error) {
	vfs := make([]filter.ValueFilter, 0, len(cfgs))
	for _, cfg := range cfgs {
		constructor := registry.GetValueConstructor(cfg.Type)
		if constructor == nil {
			return nil, unknownType("transform", cfg.Type)
		}
		vf, err := constructor(cfg, env)
		if err != nil {
			return nil, configError("transform "+cfg.Type, err)
		}
		vfs = append(vfs, vf)
	}
	return vfs, nil
}

// CreateSink creates the pipeline sink.
func CreateSink(cfg *connector.ModuleConfig, env *registry.Env) (output.Sink, error) {
	if cfg == nil {
		return nil, errhandling.NewConfigError("sink", "invalid configuration", errors.New("no sink configured"))
	}
	constructor := registry.GetSinkConstructor(cfg.Type)
	if constructor == nil {
		return nil, unknownType("sink", cfg.Type)
	}
	sink, err := constructor(*cfg, env)
	if err != nil {
		return nil, configError("sink "+cfg.Type, err)
	}
	return sink, nil
}

func unknownType(kind, moduleType string) error {
	return errhandling.NewConfigError(kind+" "+moduleType, "cannot build module", fmt.Errorf("%w %q", ErrUnknownModuleType, moduleType))
}

// configError wraps constructor failures, keeping errors that are already
// classified as they are.
func configError(component string, err error) error {
	var cfgErr *errhandling.ConfigError
	var classified *errhandling.ClassifiedError
	if errors.As(err, &cfgErr) || errors.As(err, &classified) {
		return err
	}
	return errhandling.NewConfigError(component, "invalid configuration", err)
}

func toColumns(in []string) []record.Column {
	if len(in) == 0 {
		return nil
	}
	cols := make([]record.Column, len(in))
	for i, n := range in {
		cols[i] = record.Column(n)
	}
	return cols
}
