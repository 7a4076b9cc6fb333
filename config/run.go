package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Default doctor names assigned when a doctor entry omits one.
var defaultDoctorNames = []string{"Alice", "Bob", "Carol", "Dave", "Erin"}

// AgentConfig configures one agent role's engine.
type AgentConfig struct {
	Name             string  `yaml:"name"`
	Model            string  `yaml:"model"`
	Temperature      float32 `yaml:"temperature"`
	TopP             float32 `yaml:"top_p"`
	MaxOutputTokens  int32   `yaml:"max_output_tokens"`
	FrequencyPenalty float32 `yaml:"frequency_penalty"`
	PresencePenalty  float32 `yaml:"presence_penalty"`
}

// RunSettings holds the scenario knobs.
type RunSettings struct {
	Scenario             string `yaml:"scenario"` // collaborative | consultation
	Mode                 string `yaml:"mode"`     // parallel | star | parallel_with_critique
	MaxDiscussionTurns   int    `yaml:"max_discussion_turns"`
	MaxConversationTurns int    `yaml:"max_conversation_turns"`
	MaxWorkers           int    `yaml:"max_workers"`
	Parallel             bool   `yaml:"parallel"`
	SavePath             string `yaml:"save_path"`
	RosterPath           string `yaml:"roster_path"`
	PrecomputedPath      string `yaml:"precomputed_path"`
}

// MongoSettings configures the optional MongoDB roster source and record sink.
type MongoSettings struct {
	Enabled bool   `yaml:"enabled"`
	URI     string `yaml:"uri"`
	Limit   int    `yaml:"limit"`
}

// RunConfig is the full YAML run configuration.
type RunConfig struct {
	Run    RunSettings `yaml:"run"`
	Agents struct {
		Doctors  []AgentConfig `yaml:"doctors"`
		Host     AgentConfig   `yaml:"host"`
		Patient  AgentConfig   `yaml:"patient"`
		Reporter AgentConfig   `yaml:"reporter"`
	} `yaml:"agents"`
	Mongo MongoSettings `yaml:"mongo"`
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnv replaces ${VAR} references with environment values. Unset
// variables substitute to the empty string.
func substituteEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// LoadRunConfig reads, substitutes, defaults and validates a run
// configuration file.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run config: %w", err)
	}

	var cfg RunConfig
	if err := yaml.Unmarshal(substituteEnv(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse run config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *RunConfig) applyDefaults() {
	if c.Run.Scenario == "" {
		c.Run.Scenario = "collaborative"
	}
	if c.Run.Mode == "" {
		c.Run.Mode = "parallel"
	}
	if c.Run.MaxDiscussionTurns <= 0 {
		c.Run.MaxDiscussionTurns = 4
	}
	if c.Run.MaxConversationTurns <= 0 {
		c.Run.MaxConversationTurns = 10
	}
	if c.Run.MaxWorkers <= 0 {
		c.Run.MaxWorkers = 4
	}
	if c.Run.SavePath == "" {
		c.Run.SavePath = "dialog_history.jsonl"
	}

	if len(c.Agents.Doctors) == 0 && c.Run.Scenario == "collaborative" {
		c.Agents.Doctors = []AgentConfig{{}, {}}
	}
	if len(c.Agents.Doctors) == 0 {
		c.Agents.Doctors = []AgentConfig{{}}
	}
	for i := range c.Agents.Doctors {
		if c.Agents.Doctors[i].Name == "" && i < len(defaultDoctorNames) {
			c.Agents.Doctors[i].Name = defaultDoctorNames[i]
		}
		fillAgentDefaults(&c.Agents.Doctors[i])
	}
	fillAgentDefaults(&c.Agents.Host)
	fillAgentDefaults(&c.Agents.Patient)
	fillAgentDefaults(&c.Agents.Reporter)
}

func fillAgentDefaults(a *AgentConfig) {
	if a.Model == "" {
		a.Model = GetGeminiModel()
	}
}

// Validate rejects configurations the scenarios cannot run with.
func (c *RunConfig) Validate() error {
	switch c.Run.Scenario {
	case "collaborative", "consultation":
	default:
		return fmt.Errorf("run config: unknown scenario %q", c.Run.Scenario)
	}
	switch c.Run.Mode {
	case "parallel", "star", "parallel_with_critique":
	default:
		return fmt.Errorf("run config: unknown mode %q", c.Run.Mode)
	}
	if c.Run.Scenario == "collaborative" && len(c.Agents.Doctors) < 2 {
		return fmt.Errorf("run config: collaborative scenario needs at least 2 doctors, got %d", len(c.Agents.Doctors))
	}
	for i, d := range c.Agents.Doctors {
		if d.Name == "" {
			return fmt.Errorf("run config: doctor %d has no name", i)
		}
	}
	if !c.Mongo.Enabled && c.Run.RosterPath == "" {
		return fmt.Errorf("run config: either a roster_path or an enabled mongo source is required")
	}
	return nil
}
