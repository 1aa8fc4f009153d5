package retention

import (
	"testing"
	"time"
)

func TestLoadPolicyDefaults(t *testing.T) {
	for _, k := range []string{"RETENTION_MESSAGE_KEEP_DAYS", "RETENTION_SAMPLE_KEEP_DAYS", "RETENTION_DRY_RUN", "RETENTION_INTERVAL"} {
		t.Setenv(k, "")
	}
	policy := LoadPolicy()
	if policy.MessageKeepDays != 0 || policy.SampleKeepDays != 0 {
		t.Errorf("expected disabled policy, got %+v", policy)
	}
	if policy.Interval != 6*time.Hour {
		t.Errorf("interval = %s, want 6h", policy.Interval)
	}
	if policy.DryRun {
		t.Error("dry run should default off")
	}
}

func TestLoadPolicyOverrides(t *testing.T) {
	t.Setenv("RETENTION_MESSAGE_KEEP_DAYS", "30")
	t.Setenv("RETENTION_SAMPLE_KEEP_DAYS", "7")
	t.Setenv("RETENTION_DRY_RUN", "1")
	t.Setenv("RETENTION_INTERVAL", "1h")

	policy := LoadPolicy()
	if policy.MessageKeepDays != 30 {
		t.Errorf("MessageKeepDays = %d", policy.MessageKeepDays)
	}
	if policy.SampleKeepDays != 7 {
		t.Errorf("SampleKeepDays = %d", policy.SampleKeepDays)
	}
	if !policy.DryRun {
		t.Error("expected dry run")
	}
	if policy.Interval != time.Hour {
		t.Errorf("interval = %s", policy.Interval)
	}
}

func TestLoadPolicyIgnoresInvalid(t *testing.T) {
	t.Setenv("RETENTION_MESSAGE_KEEP_DAYS", "not-a-number")
	t.Setenv("RETENTION_INTERVAL", "-5m")

	policy := LoadPolicy()
	if policy.MessageKeepDays != 0 {
		t.Errorf("MessageKeepDays = %d, want 0", policy.MessageKeepDays)
	}
	if policy.Interval != 6*time.Hour {
		t.Errorf("interval = %s, want default", policy.Interval)
	}
}
