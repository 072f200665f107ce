package registry

import (
	"errors"

	"github.com/canectors/normalizer/internal/modules/filter"
	"github.com/canectors/normalizer/internal/modules/input"
	"github.com/canectors/normalizer/internal/modules/output"
	"github.com/canectors/normalizer/internal/modules/value"
	"github.com/canectors/normalizer/internal/pathutil"
	"github.com/canectors/normalizer/pkg/connector"
	"github.com/canectors/normalizer/pkg/record"
)

// ErrNoNames is returned by the names transform when the pipeline has no
// dictionary directory configured.
var ErrNoNames = errors.New("names transform requires 'pipeline.names'")

func init() {
	RegisterBuiltins()
}

func registerBuiltinSources() {
	RegisterSource("csv", func(cfg connector.ModuleConfig, env *Env) (input.Source, error) {
		c, err := input.ParseCSVConfig(cfg.Config)
		if err != nil {
			return nil, err
		}
		c.Path = resolve(env, c.Path)
		return input.NewCSVFromConfig(c)
	})

	RegisterSource("static", func(cfg connector.ModuleConfig, _ *Env) (input.Source, error) {
		return input.NewStaticFromConfig(cfg.Config)
	})

	RegisterSource("database", func(cfg connector.ModuleConfig, env *Env) (src input.Source, err error) {
		c := input.ParseDatabaseConfig(cfg.Config)
		if c.QueryFile, err = resolveChecked(env, c.QueryFile); err != nil {
			return nil, err
		}
		return input.NewDatabaseFromConfig(c)
	})
}

func registerBuiltinFilters() {
	RegisterFilter("veto", func(cfg connector.ModuleConfig, env *Env) (filter.Module, error) {
		c, err := filter.ParseVetoConfig(cfg.Config)
		if err != nil {
			return nil, err
		}
		return filter.NewVetoFromConfig(c, env.KeyColumn)
	})

	RegisterFilter("drop", func(cfg connector.ModuleConfig, _ *Env) (filter.Module, error) {
		c, err := filter.ParseDropConfig(cfg.Config)
		if err != nil {
			return nil, err
		}
		return filter.NewDropFromConfig(c)
	})

	RegisterFilter("backup", func(cfg connector.ModuleConfig, _ *Env) (filter.Module, error) {
		return filter.NewBackup(columnList(cfg.Config["columns"])), nil
	})

	RegisterFilter("trace", func(cfg connector.ModuleConfig, _ *Env) (filter.Module, error) {
		label, _ := cfg.Config["label"].(string)
		return filter.NewTrace(label, columnList(cfg.Config["columns"])), nil
	})

	// dedupe defaults to the key column.
	RegisterFilter("dedupe", func(cfg connector.ModuleConfig, env *Env) (filter.Module, error) {
		cols := columnList(cfg.Config["columns"])
		if len(cols) == 0 && env.KeyColumn != "" {
			cols = []record.Column{env.KeyColumn}
		}
		return filter.NewDedupe(cols)
	})
}

func registerBuiltinValues() {
	RegisterValue("basic", func(cfg connector.ModuleConfig, _ *Env) (filter.ValueFilter, error) {
		c, err := value.ParseBasicConfig(cfg.Config)
		if err != nil {
			return nil, err
		}
		return value.NewBasicFromConfig(c), nil
	})

	RegisterValue("split", func(cfg connector.ModuleConfig, _ *Env) (filter.ValueFilter, error) {
		c, err := value.ParseSplitConfig(cfg.Config)
		if err != nil {
			return nil, err
		}
		return value.NewSplitFromConfig(c)
	})

	RegisterValue("paren", func(_ connector.ModuleConfig, _ *Env) (filter.ValueFilter, error) {
		return value.NewParen(), nil
	})

	expand := func(cfg connector.ModuleConfig, _ *Env) (filter.ValueFilter, error) {
		c, err := value.ParseExpandConfig(cfg.Config)
		if err != nil {
			return nil, err
		}
		return value.NewExpandFromConfig(c)
	}
	RegisterValue("expand", expand)
	RegisterValue("suffix", expand)

	RegisterValue("number", func(cfg connector.ModuleConfig, _ *Env) (filter.ValueFilter, error) {
		c, err := value.ParseNumberConfig(cfg.Config)
		if err != nil {
			return nil, err
		}
		return value.NewNumberFromConfig(c)
	})

	RegisterValue("max", func(cfg connector.ModuleConfig, env *Env) (filter.ValueFilter, error) {
		unknown, _ := cfg.Config["unknown"].(string)
		return value.NewMaxFromConfig(value.MaxConfig{Unknown: unknownOr(unknown, env)}), nil
	})

	RegisterValue("minmax", func(cfg connector.ModuleConfig, env *Env) (filter.ValueFilter, error) {
		c, err := value.ParseMinMaxConfig(cfg.Config)
		if err != nil {
			return nil, err
		}
		c.Unknown = unknownOr(c.Unknown, env)
		return value.NewMinMaxFromConfig(c)
	})

	RegisterValue("exp", func(cfg connector.ModuleConfig, env *Env) (filter.ValueFilter, error) {
		c, err := value.ParseExpConfig(cfg.Config)
		if err != nil {
			return nil, err
		}
		c.Unknown = unknownOr(c.Unknown, env)
		return value.NewExpFromConfig(c), nil
	})

	RegisterValue("remove", func(cfg connector.ModuleConfig, _ *Env) (filter.ValueFilter, error) {
		c, err := value.ParseRemoveConfig(cfg.Config)
		if err != nil {
			return nil, err
		}
		return value.NewRemoveFromConfig(c)
	})

	RegisterValue("gsub", func(cfg connector.ModuleConfig, _ *Env) (filter.ValueFilter, error) {
		c, err := value.ParseGsubConfig(cfg.Config)
		if err != nil {
			return nil, err
		}
		return value.NewGsubFromConfig(c)
	})

	RegisterValue("names", func(_ connector.ModuleConfig, env *Env) (filter.ValueFilter, error) {
		if env.Names == nil {
			return nil, ErrNoNames
		}
		return value.NewNames(env.Names), nil
	})

	RegisterValue("script", func(cfg connector.ModuleConfig, env *Env) (filter.ValueFilter, error) {
		c, err := value.ParseScriptConfig(cfg.Config)
		if err != nil {
			return nil, err
		}
		if c.ScriptFile, err = resolveChecked(env, c.ScriptFile); err != nil {
			return nil, err
		}
		return value.NewScriptFromConfig(c)
	})
}

func registerBuiltinSinks() {
	RegisterSink("csv", func(cfg connector.ModuleConfig, env *Env) (output.Sink, error) {
		c, err := output.ParseCSVConfig(cfg.Config)
		if err != nil {
			return nil, err
		}
		c.Path = resolve(env, c.Path)
		return output.NewCSVFromConfig(c)
	})

	RegisterSink("file", func(cfg connector.ModuleConfig, env *Env) (output.Sink, error) {
		c := output.ParseFileConfig(cfg.Config)
		c.Path = resolve(env, c.Path)
		return output.NewFileFromConfig(c)
	})

	RegisterSink("database", func(cfg connector.ModuleConfig, env *Env) (sink output.Sink, err error) {
		c := output.ParseDatabaseConfig(cfg.Config)
		if c.QueryFile, err = resolveChecked(env, c.QueryFile); err != nil {
			return nil, err
		}
		return output.NewDatabaseFromConfig(c, env.Columns)
	})

	RegisterSink("discard", func(cfg connector.ModuleConfig, _ *Env) (output.Sink, error) {
		preview, _ := cfg.Config["preview"].(float64)
		return output.NewDiscard(int(preview)), nil
	})
}

// resolve makes a configured path relative to the configuration file. Empty
// paths stay empty so constructors report them, and "-" keeps meaning the
// standard stream.
func resolve(env *Env, p string) string {
	if p == "" || p == input.StdinPath || env == nil {
		return p
	}
	return pathutil.Resolve(env.BaseDir, p)
}

// resolveChecked rejects traversal in the configured path before resolving
// it, since the base directory itself may legitimately contain "..".
func resolveChecked(env *Env, p string) (string, error) {
	if p == "" {
		return p, nil
	}
	if err := pathutil.ValidateFilePath(p); err != nil {
		return "", err
	}
	return resolve(env, p), nil
}

func unknownOr(unknown string, env *Env) string {
	if unknown == "" && env != nil {
		return env.Unknown
	}
	return unknown
}

// columnList accepts a single column name or a list of names.
func columnList(v interface{}) []record.Column {
	var cols []record.Column
	switch t := v.(type) {
	case string:
		if t != "" {
			cols = append(cols, record.Column(t))
		}
	case []interface{}:
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				cols = append(cols, record.Column(s))
			}
		}
	case []string:
		for _, s := range t {
			cols = append(cols, record.Column(s))
		}
	}
	return cols
}
