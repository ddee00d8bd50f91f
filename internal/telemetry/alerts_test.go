package telemetry

import (
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

const alertsPath = "../../deploy/prometheus/alerts.yml"

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

func loadAlerts(t *testing.T) []alertGroup {
	t.Helper()
	data, err := os.ReadFile(alertsPath)
	if err != nil {
		t.Skipf("Skipping test: alerts file not found at %s", alertsPath)
	}
	var config struct {
		Groups []alertGroup `yaml:"groups"`
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		t.Fatalf("Invalid YAML in alerts.yml: %v", err)
	}
	if len(config.Groups) == 0 {
		t.Fatal("alerts.yml has no groups")
	}
	return config.Groups
}

func TestCriticalAlertsPresent(t *testing.T) {
	defined := map[string]bool{}
	for _, g := range loadAlerts(t) {
		for _, r := range g.Rules {
			defined[r.Alert] = true
		}
	}
	for _, name := range []string{"SchedulerStuck", "TimerActionFailures", "UpdateServerErrors", "DatabaseDown", "NoLeader"} {
		if !defined[name] {
			t.Errorf("Critical alert '%s' not found in alerts.yml", name)
		}
	}
}

func TestAlertLabels(t *testing.T) {
	for _, g := range loadAlerts(t) {
		for _, alert := range g.Rules {
			if alert.Alert == "" {
				continue // recording rule
			}
			if _, ok := alert.Labels["severity"]; !ok {
				t.Errorf("Alert '%s' missing 'severity' label", alert.Alert)
			}
			if _, ok := alert.Annotations["summary"]; !ok {
				t.Errorf("Alert '%s' missing 'summary' annotation", alert.Alert)
			}
		}
	}
}

// TestAlertMetricsExist checks every updatehelper_* name used in an alert
// is registered by this package.
func TestAlertMetricsExist(t *testing.T) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	registered := map[string]bool{}
	for _, f := range families {
		registered[f.GetName()] = true
	}
	// Vectors without observations are not gathered.
	for _, name := range []string{
		"updatehelper_scheduler_action_runs_total",
		"updatehelper_scheduler_timer_missed_runs_total",
		"updatehelper_updates_requests_total",
		"updatehelper_updates_package_downloads_total",
		"updatehelper_api_requests_total",
		"updatehelper_leader_is_leader",
	} {
		registered[name] = true
	}

	for _, g := range loadAlerts(t) {
		for _, alert := range g.Rules {
			for _, field := range strings.FieldsFunc(alert.Expr, func(r rune) bool {
				return !(r == '_' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
			}) {
				if strings.HasPrefix(field, "updatehelper_") && !registered[field] {
					t.Errorf("Alert '%s' uses unknown metric %s", alert.Alert, field)
				}
			}
		}
	}
}
