package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"qms/queue-service/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	cfg := Load()
	if cfg.Port != "8080" || cfg.NoShowGrace != 5*time.Minute || cfg.NotifLang != "en" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !cfg.NotifInApp || cfg.NotifReminderPosition != 3 || cfg.RealtimeBuffer != 16 {
		t.Fatalf("unexpected notification defaults %+v", cfg)
	}
	if cfg.NotifChannels != nil {
		t.Fatalf("expected no channels, got %v", cfg.NotifChannels)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("ENV_FILE", "")
	t.Setenv("PORT", "9090")
	t.Setenv("NO_SHOW_GRACE_SECONDS", "60")
	t.Setenv("NOTIF_CHANNELS", "sms, push ,,webhook")
	t.Setenv("NOTIF_IN_APP", "false")
	t.Setenv("NOTIF_SMS_PROVIDER", "webhook")
	t.Setenv("NOTIF_SMS_URL", " http://sms.local/send ")
	t.Setenv("RATE_LIMIT_BURST", "not-a-number")
	t.Setenv("SLA_SCAN_INTERVAL_SECONDS", "0")
	t.Setenv("API_TOKENS", "kiosk-key:t1, broken, ops-key : t2")

	cfg := Load()
	if cfg.Port != "9090" || cfg.NoShowGrace != time.Minute {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.NotifChannels) != 3 || cfg.NotifChannels[1] != "push" {
		t.Fatalf("unexpected channels %v", cfg.NotifChannels)
	}
	if cfg.NotifInApp {
		t.Fatalf("expected in-app disabled")
	}
	if cfg.SMSProvider.Kind != "webhook" || cfg.SMSProvider.URL != "http://sms.local/send" {
		t.Fatalf("unexpected sms provider %+v", cfg.SMSProvider)
	}
	if cfg.RateLimitBurst != 30 {
		t.Fatalf("invalid int should fall back, got %d", cfg.RateLimitBurst)
	}
	if cfg.SLAScanInterval != 0 {
		t.Fatalf("expected disabled scan, got %v", cfg.SLAScanInterval)
	}
	if len(cfg.APITokens) != 2 || cfg.APITokens["kiosk-key"] != "t1" || cfg.APITokens["ops-key"] != "t2" {
		t.Fatalf("unexpected tokens %v", cfg.APITokens)
	}
}

func TestLoadEnvFileDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("NOTIF_LANG=id\nPORT=7070\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ENV_FILE", path)
	t.Setenv("PORT", "9191")
	t.Cleanup(func() { _ = os.Unsetenv("NOTIF_LANG") })

	cfg := Load()
	if cfg.NotifLang != "id" {
		t.Fatalf("expected lang from env file, got %q", cfg.NotifLang)
	}
	if cfg.Port != "9191" {
		t.Fatalf("process env must win, got %q", cfg.Port)
	}
}

func TestParseSeed(t *testing.T) {
	raw := []byte(`
services:
  - service_id: svc-cs
    tenant_id: t1
    branch_id: b1
    name: Customer Service
    code: CS
    avg_duration_minutes: 6
    active: true
stations:
  - station_id: st-1
    tenant_id: t1
    branch_id: b1
    number: "1"
    type: general
    active: true
    service_ids: [svc-cs]
priority_rules:
  - rule_id: r-senior
    tenant_id: t1
    condition: age
    boost: 2
    active: true
    payload:
      min_age: 60
sla_configs:
  - tenant_id: t1
    max_wait_minutes: 30
    warning_minutes: 20
    critical_minutes: 25
`)
	seed, err := ParseSeed(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(seed.Services) != 1 || seed.Services[0].AvgDurationMinutes != 6 {
		t.Fatalf("unexpected services %+v", seed.Services)
	}
	if len(seed.Stations) != 1 || !seed.Stations[0].Serves("svc-cs") || seed.Stations[0].Serves("svc-x") {
		t.Fatalf("unexpected stations %+v", seed.Stations)
	}
	rule, err := seed.PriorityRules[0].Rule()
	if err != nil {
		t.Fatalf("rule: %v", err)
	}
	if rule.Boost != 2 || string(rule.Payload) != `{"min_age":60}` {
		t.Fatalf("unexpected rule %+v payload %s", rule, rule.Payload)
	}

	target := &recordingSeeder{}
	if err := seed.Apply(target); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(target.services) != 1 || len(target.stations) != 1 || len(target.rules) != 1 || len(target.slas) != 1 {
		t.Fatalf("unexpected apply result %+v", target)
	}
}

func TestParseSeedRequiresIdentifiers(t *testing.T) {
	_, err := ParseSeed([]byte("services:\n  - name: nameless\n"))
	if err == nil {
		t.Fatalf("expected error for service without ids")
	}
	if _, err := ParseSeed([]byte("services: [")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestExampleSeedParses(t *testing.T) {
	seed, err := LoadSeed(filepath.Join("..", "..", "config", "seed.example.yaml"))
	if err != nil {
		t.Fatalf("load example: %v", err)
	}
	if len(seed.Services) == 0 || len(seed.Stations) == 0 {
		t.Fatalf("example seed is empty")
	}
}

type recordingSeeder struct {
	services []models.Service
	stations []models.Station
	rules    []models.PriorityRule
	slas     []models.SLAConfig
}

func (r *recordingSeeder) PutService(service models.Service) { r.services = append(r.services, service) }
func (r *recordingSeeder) PutStation(station models.Station) { r.stations = append(r.stations, station) }
func (r *recordingSeeder) PutPriorityRule(rule models.PriorityRule) { r.rules = append(r.rules, rule) }
func (r *recordingSeeder) PutSLAConfig(cfg models.SLAConfig) { r.slas = append(r.slas, cfg) }
