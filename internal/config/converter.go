package config

import (
	"fmt"

	"github.com/canectors/normalizer/pkg/connector"
)

// AllColumns is the step "columns" value that applies transforms to every
// column present on the record.
const AllColumns = "all"

// ConvertToPipeline converts a validated document to a Pipeline.
//
//	schemaVersion: "1.0.0"
//	pipeline:
//	  name: ...
//	  sources: [...]
//	  steps: [...]
//	  sink: {...}
func ConvertToPipeline(data map[string]interface{}) (*connector.Pipeline, error) {
	if data == nil {
		return nil, fmt.Errorf("configuration data is nil")
	}
	pd, ok := data["pipeline"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'pipeline' section")
	}

	p := &connector.Pipeline{Enabled: true}

	name, ok := pd["name"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("missing required field 'pipeline.name'")
	}
	p.Name = name
	p.ID = name
	if id, ok := pd["id"].(string); ok && id != "" {
		p.ID = id
	}
	p.Description, _ = pd["description"].(string)
	p.Version, _ = pd["version"].(string)
	if enabled, ok := pd["enabled"].(bool); ok {
		p.Enabled = enabled
	}
	p.KeyColumn, _ = pd["keyColumn"].(string)
	p.Unknown, _ = pd["unknown"].(string)
	p.Schedule, _ = pd["schedule"].(string)
	p.StateDir, _ = pd["stateDir"].(string)

	var err error
	if p.Columns, err = stringSlice(pd["columns"], "pipeline.columns"); err != nil {
		return nil, err
	}

	if nd, ok := pd["names"].(map[string]interface{}); ok {
		p.Names = &connector.NamesConfig{}
		p.Names.Dir, _ = nd["dir"].(string)
		p.Names.Prune, _ = nd["prune"].(bool)
		if p.Names.Columns, err = stringSlice(nd["columns"], "pipeline.names.columns"); err != nil {
			return nil, err
		}
	}

	sources, ok := pd["sources"].([]interface{})
	if !ok || len(sources) == 0 {
		return nil, fmt.Errorf("missing or empty 'pipeline.sources'")
	}
	for i, raw := range sources {
		m, err := convertModuleConfig(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid source at index %d: %w", i, err)
		}
		p.Sources = append(p.Sources, *m)
	}

	if steps, ok := pd["steps"].([]interface{}); ok {
		for i, raw := range steps {
			step, err := convertStep(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid step at index %d: %w", i, err)
			}
			p.Steps = append(p.Steps, *step)
		}
	}

	if p.Sink, err = convertModuleConfig(pd["sink"]); err != nil {
		return nil, fmt.Errorf("invalid sink: %w", err)
	}

	if md, ok := pd["metrics"].(map[string]interface{}); ok {
		p.Metrics = &connector.MetricsConfig{}
		p.Metrics.Pushgateway, _ = md["pushgateway"].(string)
		p.Metrics.Job, _ = md["job"].(string)
	}
	if dd, ok := pd["dryRunOptions"].(map[string]interface{}); ok {
		p.DryRunOptions = &connector.DryRunOptions{}
		if n, ok := dd["previewRecords"].(float64); ok {
			p.DryRunOptions.PreviewRecords = int(n)
		}
	}

	return p, nil
}

// convertModuleConfig accepts {type, config} or, for transforms, a bare type
// name.
func convertModuleConfig(raw interface{}) (*connector.ModuleConfig, error) {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil, fmt.Errorf("empty module type")
		}
		return &connector.ModuleConfig{Type: v}, nil
	case map[string]interface{}:
		typ, ok := v["type"].(string)
		if !ok || typ == "" {
			return nil, fmt.Errorf("missing required field 'type'")
		}
		m := &connector.ModuleConfig{Type: typ}
		if cfg, ok := v["config"].(map[string]interface{}); ok {
			m.Config = cfg
		}
		return m, nil
	default:
		return nil, fmt.Errorf("expected module object, got %T", raw)
	}
}

func convertStep(raw interface{}) (*connector.Step, error) {
	sd, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected step object, got %T", raw)
	}

	if f, ok := sd["filter"]; ok {
		m, err := convertModuleConfig(f)
		if err != nil {
			return nil, fmt.Errorf("filter: %w", err)
		}
		return &connector.Step{Filter: m}, nil
	}

	step := &connector.Step{}
	switch cols := sd["columns"].(type) {
	case string:
		if cols != AllColumns {
			return nil, fmt.Errorf("'columns' must be %q or a list, got %q", AllColumns, cols)
		}
		step.AllColumns = true
	case []interface{}:
		list, err := stringSlice(cols, "columns")
		if err != nil {
			return nil, err
		}
		step.Columns = list
	default:
		return nil, fmt.Errorf("step needs 'filter' or 'columns' with 'transforms'")
	}

	transforms, ok := sd["transforms"].([]interface{})
	if !ok || len(transforms) == 0 {
		return nil, fmt.Errorf("'transforms' must be a non-empty list")
	}
	for i, t := range transforms {
		m, err := convertModuleConfig(t)
		if err != nil {
			return nil, fmt.Errorf("transform %d: %w", i, err)
		}
		step.Transforms = append(step.Transforms, *m)
	}
	return step, nil
}

func stringSlice(raw interface{}, field string) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("'%s' must be a list, got %T", field, raw)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("'%s' must contain strings, got %T", field, item)
		}
		out = append(out, s)
	}
	return out, nil
}
