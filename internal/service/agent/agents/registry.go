// Package agents loads the agent definitions (prompt, model, output schema)
// compiled into the binary.
package agents

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	services "advisor/internal/domain/services/agent"
	"gopkg.in/yaml.v3"
)

//go:embed config/*.yaml
var configFiles embed.FS

// Agent names
const (
	Guardrail  = "guardrail"
	FollowUp   = "followup"
	Background = "background"
	Lead       = "lead"
)

var builtin = []string{Guardrail, FollowUp, Background, Lead}

// Definition is one agent as declared in YAML
type Definition struct {
	services.AgentSpec `yaml:",inline"`
	Output             *OutputDefinition `yaml:"output,omitempty"`
}

// OutputDefinition is the structured answer of a non-streaming agent
type OutputDefinition struct {
	Name   string `yaml:"name"`
	Schema string `yaml:"schema"`
}

// Spec returns the agent spec with {today} expanded for now
func (d *Definition) Spec(now time.Time) *services.AgentSpec {
	spec := d.AgentSpec
	spec.Instructions = strings.ReplaceAll(spec.Instructions, "{today}", now.Format("2006-01-02"))
	return &spec
}

// OutputSchema returns the declared output schema, or nil for free-text agents
func (d *Definition) OutputSchema() *services.OutputSchema {
	if d.Output == nil {
		return nil
	}
	return &services.OutputSchema{Name: d.Output.Name, Schema: json.RawMessage(d.Output.Schema)}
}

// Registry holds the loaded agent definitions
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Definition
}

// NewRegistry loads the embedded YAML definitions. Non-empty entries of
// models replace the declared model of the named agent.
func NewRegistry(models map[string]string) (*Registry, error) {
	r := &Registry{agents: make(map[string]*Definition)}

	for _, name := range builtin {
		if err := r.loadAgentFile(name); err != nil {
			return nil, fmt.Errorf("failed to load %s agent: %w", name, err)
		}
	}

	for name, model := range models {
		if model == "" {
			continue
		}
		def, ok := r.agents[name]
		if !ok {
			return nil, fmt.Errorf("model override for unknown agent: %s", name)
		}
		def.Model = model
	}
	return r, nil
}

func (r *Registry) loadAgentFile(name string) error {
	filename := fmt.Sprintf("config/%s.yaml", name)
	data, err := configFiles.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filename, err)
	}
	if def.Name != name {
		return fmt.Errorf("%s declares name %q", filename, def.Name)
	}
	if def.Output != nil && !json.Valid([]byte(def.Output.Schema)) {
		return fmt.Errorf("%s: output schema is not valid JSON", filename)
	}

	r.mu.Lock()
	r.agents[name] = &def
	r.mu.Unlock()
	return nil
}

// Get returns the named definition
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("unknown agent: %s", name)
	}
	return def, nil
}

// Models returns the model of every agent, keyed by agent name
func (r *Registry) Models() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.agents))
	for name, def := range r.agents {
		out[name] = def.Model
	}
	return out
}
