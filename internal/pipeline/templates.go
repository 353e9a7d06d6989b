package pipeline

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brendan721/flipsync-agents/internal/coorderrors"
	"github.com/brendan721/flipsync-agents/internal/registry"
)

const defaultStageTimeout = 20 * time.Second

// RegisterTemplate stores config under templateID for later instantiation
// via CreateFromTemplate.
func (c *Controller) RegisterTemplate(templateID string, config Pipeline) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates[templateID] = &config
}

// CreateFromTemplate instantiates a registered template under newID,
// applying overrides (currently: MaxParallelStages, when > 0) and registers
// the resulting pipeline for execution.
func (c *Controller) CreateFromTemplate(templateID, newID string, overrides map[string]any) error {
	c.mu.Lock()
	tmpl, ok := c.templates[templateID]
	c.mu.Unlock()
	if !ok {
		return coorderrors.NotFound("pipeline template", templateID)
	}

	p := clonePipeline(tmpl)
	p.ID = newID
	if overrides != nil {
		if mp, ok := overrides["max_parallel_stages"].(int); ok && mp > 0 {
			p.MaxParallelStages = mp
		}
	}
	return c.RegisterPipeline(p)
}

func clonePipeline(src *Pipeline) Pipeline {
	stages := make([]*Stage, len(src.Stages))
	for i, s := range src.Stages {
		cp := *s
		stages[i] = &cp
	}
	return Pipeline{
		ID:                src.ID,
		Description:       src.Description,
		Stages:            stages,
		MaxParallelStages: src.MaxParallelStages,
	}
}

// RegisterDefaultTemplates installs the four shipped templates from
// spec.md §4.G: pricing_update, inventory_sync, content_generation, and
// full_marketplace_cycle.
func (c *Controller) RegisterDefaultTemplates() {
	c.RegisterTemplate("pricing_update", Pipeline{
		ID:          "pricing_update",
		Description: "Executive decision feeding a Market price update",
		Stages: []*Stage{
			{ID: "executive_decision", Category: registry.CategoryExecutive, Required: true, Timeout: defaultStageTimeout, RetryCount: 1},
			{ID: "market_update", Category: registry.CategoryMarket, Required: true, Timeout: defaultStageTimeout, RetryCount: 1},
		},
		MaxParallelStages: 1,
	})

	c.RegisterTemplate("inventory_sync", Pipeline{
		ID:          "inventory_sync",
		Description: "Executive-directed inventory sync across market and logistics",
		Stages: []*Stage{
			{ID: "executive_decision", Category: registry.CategoryExecutive, Required: true, Timeout: defaultStageTimeout, RetryCount: 1},
			{ID: "market_check", Category: registry.CategoryMarket, Required: true, Timeout: defaultStageTimeout, RetryCount: 1},
			{ID: "logistics_sync", Category: registry.CategoryLogistics, Required: true, Timeout: defaultStageTimeout, RetryCount: 2},
		},
		MaxParallelStages: 1,
	})

	c.RegisterTemplate("content_generation", Pipeline{
		ID:          "content_generation",
		Description: "Executive-directed content generation with optional market review",
		Stages: []*Stage{
			{ID: "executive_decision", Category: registry.CategoryExecutive, Required: true, Timeout: defaultStageTimeout, RetryCount: 1},
			{ID: "content_draft", Category: registry.CategoryContent, Required: true, Timeout: defaultStageTimeout, RetryCount: 1},
			{ID: "market_review", Category: registry.CategoryMarket, Required: false, Timeout: defaultStageTimeout, RetryCount: 1},
		},
		MaxParallelStages: 1,
	})

	c.RegisterTemplate("full_marketplace_cycle", Pipeline{
		ID:          "full_marketplace_cycle",
		Description: "Full executive -> content -> market -> logistics cycle",
		Stages: []*Stage{
			{ID: "executive_decision", Category: registry.CategoryExecutive, Required: true, Timeout: defaultStageTimeout, RetryCount: 1},
			{ID: "content_draft", Category: registry.CategoryContent, Required: true, Timeout: defaultStageTimeout, RetryCount: 1},
			{ID: "market_update", Category: registry.CategoryMarket, Required: true, Timeout: defaultStageTimeout, RetryCount: 1},
			{ID: "logistics_sync", Category: registry.CategoryLogistics, Required: true, Timeout: defaultStageTimeout, RetryCount: 2},
		},
		MaxParallelStages: 2,
	})
}

// yamlPipeline mirrors Pipeline/Stage for YAML decoding (durations and
// categories are strings on the wire).
type yamlPipeline struct {
	ID                string       `yaml:"id"`
	Description       string       `yaml:"description"`
	MaxParallelStages int          `yaml:"max_parallel_stages"`
	Stages            []yamlStage  `yaml:"stages"`
}

type yamlStage struct {
	ID              string `yaml:"id"`
	Category        string `yaml:"category"`
	Required        bool   `yaml:"required"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	RetryCount      int    `yaml:"retry_count"`
	FallbackStageID string `yaml:"fallback_stage_id"`
}

// LoadTemplatesYAML parses a YAML document of pipeline templates (ops
// tuning pipelines without a redeploy) and registers each as a template.
func (c *Controller) LoadTemplatesYAML(doc []byte) error {
	var parsed struct {
		Templates []yamlPipeline `yaml:"templates"`
	}
	if err := yaml.Unmarshal(doc, &parsed); err != nil {
		return coorderrors.Wrap(coorderrors.KindValidation, "invalid pipeline template YAML", err)
	}

	for _, yp := range parsed.Templates {
		stages := make([]*Stage, 0, len(yp.Stages))
		for _, ys := range yp.Stages {
			timeout := defaultStageTimeout
			if ys.TimeoutSeconds > 0 {
				timeout = time.Duration(ys.TimeoutSeconds) * time.Second
			}
			stages = append(stages, &Stage{
				ID:              ys.ID,
				Category:        registry.Category(ys.Category),
				Required:        ys.Required,
				Timeout:         timeout,
				RetryCount:      ys.RetryCount,
				FallbackStageID: ys.FallbackStageID,
			})
		}
		c.RegisterTemplate(yp.ID, Pipeline{
			ID:                yp.ID,
			Description:       yp.Description,
			Stages:            stages,
			MaxParallelStages: yp.MaxParallelStages,
		})
	}
	return nil
}
