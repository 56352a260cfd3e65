// Package seed loads agents and DAG templates from a YAML file into the
// database, typically on server startup in development.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog"

	"github.com/netbase/engine/internal/storage"
	"github.com/netbase/engine/pkg/models"
)

// File is the top-level YAML document shape.
type File struct {
	Agents    []AgentSpec    `yaml:"agents"`
	Templates []TemplateSpec `yaml:"templates"`
}

// AgentSpec declares one agent to register.
type AgentSpec struct {
	Name            string                 `yaml:"name"`
	Description     string                 `yaml:"description"`
	Type            string                 `yaml:"type"`
	SourceReference string                 `yaml:"source_reference"`
	InputSchema     map[string]interface{} `yaml:"input_schema"`
	OutputSchema    map[string]interface{} `yaml:"output_schema"`
}

// TemplateSpec declares one DAG template. Nodes reference agents by name so
// seed files stay portable across databases.
type TemplateSpec struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Schedule    string     `yaml:"schedule"`
	Nodes       []NodeSpec `yaml:"nodes"`
	Edges       []EdgeSpec `yaml:"edges"`
}

// NodeSpec declares one node of a seeded template.
type NodeSpec struct {
	ID          string                 `yaml:"id"`
	Agent       string                 `yaml:"agent"`
	InputParams map[string]interface{} `yaml:"input_params"`
}

// EdgeSpec declares one dependency arc.
type EdgeSpec struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Loader applies seed files idempotently: agents and templates that already
// exist by name are left untouched.
type Loader struct {
	agents    storage.AgentRepository
	templates storage.TemplateRepository
	logger    zerolog.Logger
}

// NewLoader creates a seed loader.
func NewLoader(agents storage.AgentRepository, templates storage.TemplateRepository, logger zerolog.Logger) *Loader {
	return &Loader{
		agents:    agents,
		templates: templates,
		logger:    logger.With().Str("component", "seed").Logger(),
	}
}

// Apply reads the YAML file at path and creates any missing agents and
// templates.
func (l *Loader) Apply(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}

	agentIDs := make(map[string]int64, len(file.Agents))
	for _, spec := range file.Agents {
		id, err := l.ensureAgent(ctx, spec)
		if err != nil {
			return err
		}
		agentIDs[spec.Name] = id
	}

	existing, err := l.templates.List(ctx, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}
	existingNames := make(map[string]bool, len(existing))
	for _, t := range existing {
		existingNames[t.Name] = true
	}

	for _, spec := range file.Templates {
		if existingNames[spec.Name] {
			l.logger.Debug().Str("template", spec.Name).Msg("template already seeded")
			continue
		}
		if err := l.createTemplate(ctx, spec, agentIDs); err != nil {
			return err
		}
	}

	l.logger.Info().
		Int("agents", len(file.Agents)).
		Int("templates", len(file.Templates)).
		Msg("seed file applied")
	return nil
}

func (l *Loader) ensureAgent(ctx context.Context, spec AgentSpec) (int64, error) {
	existing, err := l.agents.GetByName(ctx, spec.Name)
	if err == nil {
		l.logger.Debug().Str("agent", spec.Name).Msg("agent already seeded")
		return existing.ID, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("failed to look up agent %q: %w", spec.Name, err)
	}

	agent := &models.Agent{
		Name:            spec.Name,
		Description:     spec.Description,
		Type:            models.AgentType(spec.Type),
		SourceReference: spec.SourceReference,
		InputSchema:     spec.InputSchema,
		OutputSchema:    spec.OutputSchema,
	}
	if err := l.agents.Create(ctx, agent); err != nil {
		return 0, fmt.Errorf("failed to seed agent %q: %w", spec.Name, err)
	}
	return agent.ID, nil
}

func (l *Loader) createTemplate(ctx context.Context, spec TemplateSpec, agentIDs map[string]int64) error {
	def := models.DAGDefinition{
		Nodes: make([]models.Node, len(spec.Nodes)),
		Edges: make([]models.Edge, len(spec.Edges)),
	}
	for i, n := range spec.Nodes {
		agentID, ok := agentIDs[n.Agent]
		if !ok {
			return fmt.Errorf("template %q node %q references unknown agent %q", spec.Name, n.ID, n.Agent)
		}
		def.Nodes[i] = models.Node{
			ID:   n.ID,
			Data: models.NodeData{AgentID: agentID, InputParams: n.InputParams},
		}
	}
	for i, e := range spec.Edges {
		def.Edges[i] = models.Edge{From: e.From, To: e.To}
	}

	tmpl := &models.DAGTemplate{
		Name:          spec.Name,
		Description:   spec.Description,
		Schedule:      spec.Schedule,
		DAGDefinition: def,
	}
	if err := l.templates.Create(ctx, tmpl); err != nil {
		return fmt.Errorf("failed to seed template %q: %w", spec.Name, err)
	}
	return nil
}
