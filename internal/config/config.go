// Package config loads server settings from the environment, an optional
// .env file, and an optional YAML rules file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/DoyleJ11/nightfall-backend/internal/agent"
	"github.com/DoyleJ11/nightfall-backend/internal/anon"
	"github.com/DoyleJ11/nightfall-backend/internal/coord"
	"github.com/DoyleJ11/nightfall-backend/internal/engine"
	"github.com/DoyleJ11/nightfall-backend/internal/lobby"
)

const envPrefix = "NIGHTFALL_"

// LLM describes the text generation endpoint. An empty Endpoint means the
// built-in babbler plays the agents.
type LLM struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

type Config struct {
	Addr        string
	LogLevel    string
	DevLogging  bool
	DatabaseURL string
	RulesFile   string

	LLM   LLM
	Agent agent.Options
	Game  lobby.Config
}

// Rules models the YAML rules file. Zero fields keep the defaults.
type Rules struct {
	Capacity        int      `yaml:"capacity"`
	MaxUtteranceLen int      `yaml:"max_utterance_len"`
	NamePool        []string `yaml:"name_pool"`
	Quota           *struct {
		HarmLeaders     int `yaml:"harm_leaders"`
		HarmAccomplices int `yaml:"harm_accomplices"`
		Protectors      int `yaml:"protectors"`
	} `yaml:"quota"`
	Timings struct {
		RoleAssignment time.Duration `yaml:"role_assignment"`
		Night          time.Duration `yaml:"night"`
		Council        time.Duration `yaml:"council"`
		Revelation     time.Duration `yaml:"revelation"`
		Speaker        time.Duration `yaml:"speaker"`
		Discussion     time.Duration `yaml:"discussion"`
		Voting         time.Duration `yaml:"voting"`
		AgentVote      time.Duration `yaml:"agent_vote"`
		AgentAction    time.Duration `yaml:"agent_action"`
		Stagger        time.Duration `yaml:"stagger"`
	} `yaml:"timings"`
}

// Default is the configuration before the environment is read.
func Default() Config {
	return Config{
		Addr:     ":8080",
		LogLevel: "info",
		LLM:      LLM{Model: "gpt-4o-mini", Timeout: 30 * time.Second},
		Agent:    agent.Options{MaxTokens: 256, Temperature: 0.8, MemoryLines: 60, InboxSize: 128},
		Game: lobby.Config{
			Rules: engine.Rules{
				Capacity:        10,
				Quota:           engine.Quota{HarmLeaders: 1, HarmAccomplices: 1, Protectors: 1},
				MaxUtteranceLen: 500,
			},
			Timing: coord.Timing{
				SpeakerTimeout: 30 * time.Second,
				VoteTimeout:    20 * time.Second,
				ActionTimeout:  20 * time.Second,
				CouncilTimeout: 15 * time.Second,
				MaxStagger:     3 * time.Second,
			},
			RoleAssignmentDelay: 5 * time.Second,
			NightDuration:       45 * time.Second,
			RevelationDelay:     5 * time.Second,
			DiscussionDuration:  5 * time.Minute,
			VotingDuration:      60 * time.Second,
			MaxParallelRequests: 4,
		},
	}
}

// Load reads .env (if present), then the environment, then the rules file
// named by NIGHTFALL_RULES_FILE. The result is validated.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	var errs error
	cfg.Addr = envString("ADDR", cfg.Addr)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.DevLogging = envBool("LOG_DEV", cfg.DevLogging, &errs)
	cfg.DatabaseURL = envString("DATABASE_URL", cfg.DatabaseURL)
	cfg.RulesFile = envString("RULES_FILE", cfg.RulesFile)

	cfg.LLM.Endpoint = envString("LLM_ENDPOINT", cfg.LLM.Endpoint)
	cfg.LLM.APIKey = envString("LLM_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.Model = envString("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.Timeout = envDuration("LLM_TIMEOUT", cfg.LLM.Timeout, &errs)
	cfg.Agent.MaxTokens = envInt("AGENT_MAX_TOKENS", cfg.Agent.MaxTokens, &errs)

	cfg.Game.Rules.Capacity = envInt("CAPACITY", cfg.Game.Rules.Capacity, &errs)
	cfg.Game.MaxParallelRequests = envInt("MAX_PARALLEL_REQUESTS", cfg.Game.MaxParallelRequests, &errs)
	cfg.Game.Seed = uint64(envInt("SEED", int(cfg.Game.Seed), &errs))
	cfg.Game.AgentModel = cfg.LLM.Model
	if errs != nil {
		return Config{}, errs
	}

	if cfg.RulesFile != "" {
		raw, err := os.ReadFile(cfg.RulesFile)
		if err != nil {
			return Config{}, fmt.Errorf("read rules file: %w", err)
		}
		if err := cfg.ApplyRules(raw); err != nil {
			return Config{}, err
		}
	}
	return cfg, cfg.Validate()
}

// ApplyRules overlays a YAML rules document onto cfg.
func (c *Config) ApplyRules(raw []byte) error {
	var r Rules
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return fmt.Errorf("parse rules file: %w", err)
	}

	g := &c.Game
	setInt(&g.Rules.Capacity, r.Capacity)
	setInt(&g.Rules.MaxUtteranceLen, r.MaxUtteranceLen)
	if r.Quota != nil {
		g.Rules.Quota = engine.Quota{
			HarmLeaders:     r.Quota.HarmLeaders,
			HarmAccomplices: r.Quota.HarmAccomplices,
			Protectors:      r.Quota.Protectors,
		}
	}
	if len(r.NamePool) > 0 {
		g.NamePool = r.NamePool
	}

	t := r.Timings
	setDuration(&g.RoleAssignmentDelay, t.RoleAssignment)
	setDuration(&g.NightDuration, t.Night)
	setDuration(&g.Timing.CouncilTimeout, t.Council)
	setDuration(&g.RevelationDelay, t.Revelation)
	setDuration(&g.Timing.SpeakerTimeout, t.Speaker)
	setDuration(&g.DiscussionDuration, t.Discussion)
	setDuration(&g.VotingDuration, t.Voting)
	setDuration(&g.Timing.VoteTimeout, t.AgentVote)
	setDuration(&g.Timing.ActionTimeout, t.AgentAction)
	setDuration(&g.Timing.MaxStagger, t.Stagger)
	return nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs error
	g := c.Game
	if _, err := g.Rules.Quota.Tokens(g.Rules.Capacity); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("quota does not fit capacity %d: %w", g.Rules.Capacity, err))
	}
	if g.Rules.MaxUtteranceLen <= 0 {
		errs = multierr.Append(errs, errors.New("max utterance length must be positive"))
	}
	if g.MaxParallelRequests <= 0 {
		errs = multierr.Append(errs, errors.New("max parallel requests must be positive"))
	}
	if n := anon.Capacity(g.NamePool); n < g.Rules.Capacity {
		errs = multierr.Append(errs, fmt.Errorf("%w: %d names for %d seats", engine.ErrNamePoolTooSmall, n, g.Rules.Capacity))
	}

	durations := map[string]time.Duration{
		"role assignment delay": g.RoleAssignmentDelay,
		"night duration":        g.NightDuration,
		"revelation delay":      g.RevelationDelay,
		"discussion duration":   g.DiscussionDuration,
		"voting duration":       g.VotingDuration,
		"speaker timeout":       g.Timing.SpeakerTimeout,
		"agent vote timeout":    g.Timing.VoteTimeout,
		"agent action timeout":  g.Timing.ActionTimeout,
		"council timeout":       g.Timing.CouncilTimeout,
		"llm timeout":           c.LLM.Timeout,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if g.Timing.MaxStagger < 0 {
		errs = multierr.Append(errs, errors.New("stagger must not be negative"))
	}
	return errs
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int, errs *error) int {
	v := envString(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = multierr.Append(*errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return def
	}
	return n
}

func envBool(key string, def bool, errs *error) bool {
	v := envString(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = multierr.Append(*errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return def
	}
	return b
}

func envDuration(key string, def time.Duration, errs *error) time.Duration {
	v := envString(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = multierr.Append(*errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return def
	}
	return d
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}
