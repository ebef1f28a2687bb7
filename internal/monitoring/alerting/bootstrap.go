package alerting

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/perfwatch/perfwatch/internal/monitoring/model"
)

// RulesFile is the structure of the YAML rules config file.
type RulesFile struct {
	Rules []RuleConfigItem `yaml:"rules"`
}

type RuleConfigItem struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	MetricName  string            `yaml:"metric_name"`
	Condition   string            `yaml:"condition"`
	Threshold   float64           `yaml:"threshold"`
	Severity    string            `yaml:"severity"`
	TagsFilter  map[string]string `yaml:"tags_filter"`
	Cooldown    string            `yaml:"cooldown"` // e.g. "5m"
	Enabled     *bool             `yaml:"enabled"`  // nil means enabled
	Channels    []string          `yaml:"channels"`
}

// BootstrapRulesFromFile loads a YAML rules file and registers each rule on
// the engine. Rules already registered are skipped; a malformed rule entry is
// logged and skipped without aborting the rest. An empty path is a no-op.
func BootstrapRulesFromFile(e *Engine, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules config: %w", err)
	}
	var cfg RulesFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse rules config: %w", err)
	}
	loaded := 0
	for _, item := range cfg.Rules {
		rule, err := ruleFromConfig(&item)
		if err != nil {
			log.Error().Err(err).Str("rule", item.Name).Msg("skipping malformed rule config entry")
			continue
		}
		if err := e.AddRule(rule); err != nil {
			if errors.Is(err, ErrDuplicateRule) {
				log.Debug().Str("rule", rule.Name).Msg("rule already registered, skipping")
				continue
			}
			log.Error().Err(err).Str("rule", rule.Name).Msg("rule registration failed")
			continue
		}
		loaded++
	}
	log.Info().Int("loaded", loaded).Int("total", len(cfg.Rules)).Str("file", path).Msg("alert rules bootstrapped")
	return nil
}

func ruleFromConfig(item *RuleConfigItem) (model.AlertRule, error) {
	severity, err := model.ParseSeverity(item.Severity)
	if err != nil {
		return model.AlertRule{}, err
	}
	cooldown := time.Duration(0)
	if s := strings.TrimSpace(item.Cooldown); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return model.AlertRule{}, fmt.Errorf("parse cooldown: %w", err)
		}
		cooldown = d
	}
	enabled := true
	if item.Enabled != nil {
		enabled = *item.Enabled
	}
	return model.AlertRule{
		Name:        item.Name,
		Description: item.Description,
		MetricName:  item.MetricName,
		Condition:   model.Condition(strings.ToLower(strings.TrimSpace(item.Condition))),
		Threshold:   item.Threshold,
		Severity:    severity,
		TagsFilter:  item.TagsFilter,
		Cooldown:    cooldown,
		Enabled:     enabled,
		Channels:    item.Channels,
	}, nil
}
