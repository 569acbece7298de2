package doctor

import (
	"errors"
	"path/filepath"
	"testing"
)

func findCheck(t *testing.T, report Report, name string) Check {
	t.Helper()
	for _, c := range report.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not found in report %+v", name, report.Checks)
	return Check{}
}

func TestRunWithCleanEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DESKCLAW_CONFIG", filepath.Join(dir, "config.json"))
	t.Setenv("DESKCLAW_PATHS_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("DESKCLAW_ANTHROPIC_API_KEY", "sk-test")

	report, err := Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if c := findCheck(t, report, "config_file"); c.Status != Warn {
		t.Errorf("config_file status = %s, want warn for missing file", c.Status)
	}
	if c := findCheck(t, report, "config_load"); c.Status != Pass {
		t.Errorf("config_load status = %s, want pass", c.Status)
	}
	if c := findCheck(t, report, "api_key"); c.Status != Pass {
		t.Errorf("api_key status = %s, want pass", c.Status)
	}
	if c := findCheck(t, report, "data_dir"); c.Status != Pass {
		t.Errorf("data_dir status = %s, want pass", c.Status)
	}
}

func TestRunMissingAPIKeyWarns(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DESKCLAW_CONFIG", filepath.Join(dir, "config.json"))
	t.Setenv("DESKCLAW_PATHS_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("DESKCLAW_ANTHROPIC_API_KEY", "")

	report, err := Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if c := findCheck(t, report, "api_key"); c.Status != Warn {
		t.Errorf("api_key status = %s, want warn", c.Status)
	}
	if report.HasFailures() {
		t.Errorf("report has failures: %+v", report.Checks)
	}
}

func TestRunMissingDisplayBinariesWarns(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DESKCLAW_CONFIG", filepath.Join(dir, "config.json"))
	t.Setenv("DESKCLAW_PATHS_DATA_DIR", filepath.Join(dir, "data"))

	orig := lookPath
	lookPath = func(name string) (string, error) { return "", errors.New("not found") }
	defer func() { lookPath = orig }()

	report, err := Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if c := findCheck(t, report, "display_binaries"); c.Status != Warn {
		t.Errorf("display_binaries status = %s, want warn", c.Status)
	}
}

func TestRunMisconfiguredMirrorFails(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DESKCLAW_CONFIG", filepath.Join(dir, "config.json"))
	t.Setenv("DESKCLAW_PATHS_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("DESKCLAW_MIRROR_ENABLED", "true")
	t.Setenv("DESKCLAW_MIRROR_BROKERS", "")

	report, err := Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if c := findCheck(t, report, "mirror"); c.Status != Fail {
		t.Errorf("mirror status = %s, want fail", c.Status)
	}
	if !report.HasFailures() {
		t.Error("HasFailures() = false, want true")
	}
}
