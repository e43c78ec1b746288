package config

import (
	"encoding/json"
	"fmt"
	"os"

	"qms/queue-service/internal/models"

	"gopkg.in/yaml.v3"
)

// Seed is the reference data a memory-backed deployment starts with.
type Seed struct {
	Services      []models.Service   `yaml:"services"`
	Stations      []models.Station   `yaml:"stations"`
	PriorityRules []SeedRule         `yaml:"priority_rules"`
	SLAConfigs    []models.SLAConfig `yaml:"sla_configs"`
}

// SeedRule lets a rule payload be written as YAML; it is stored as JSON.
type SeedRule struct {
	models.PriorityRule `yaml:",inline"`
	Payload             map[string]interface{} `yaml:"payload"`
}

type Seeder interface {
	PutService(service models.Service)
	PutStation(station models.Station)
	PutPriorityRule(rule models.PriorityRule)
	PutSLAConfig(cfg models.SLAConfig)
}

func LoadSeed(path string) (Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, err
	}
	return ParseSeed(raw)
}

func ParseSeed(raw []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse seed: %w", err)
	}
	for i, service := range seed.Services {
		if service.ServiceID == "" || service.TenantID == "" || service.BranchID == "" || service.Code == "" {
			return Seed{}, fmt.Errorf("seed service %d: service_id, tenant_id, branch_id and code are required", i)
		}
	}
	for i, station := range seed.Stations {
		if station.StationID == "" || station.TenantID == "" || station.BranchID == "" {
			return Seed{}, fmt.Errorf("seed station %d: station_id, tenant_id and branch_id are required", i)
		}
	}
	for i, rule := range seed.PriorityRules {
		if rule.RuleID == "" || rule.TenantID == "" || rule.Condition == "" {
			return Seed{}, fmt.Errorf("seed rule %d: rule_id, tenant_id and condition are required", i)
		}
	}
	return seed, nil
}

func (s Seed) Apply(target Seeder) error {
	for _, service := range s.Services {
		target.PutService(service)
	}
	for _, station := range s.Stations {
		target.PutStation(station)
	}
	for _, rule := range s.PriorityRules {
		converted, err := rule.Rule()
		if err != nil {
			return err
		}
		target.PutPriorityRule(converted)
	}
	for _, cfg := range s.SLAConfigs {
		target.PutSLAConfig(cfg)
	}
	return nil
}

func (r SeedRule) Rule() (models.PriorityRule, error) {
	rule := r.PriorityRule
	if r.Payload == nil {
		rule.Payload = json.RawMessage(`{}`)
		return rule, nil
	}
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return models.PriorityRule{}, fmt.Errorf("seed rule %s payload: %w", r.RuleID, err)
	}
	rule.Payload = payload
	return rule, nil
}
