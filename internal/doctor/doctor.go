// Package doctor runs local setup diagnostics for the deskclaw CLI.
package doctor

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/DeskClaw/DeskClaw/internal/config"
)

type Status string

const (
	Pass Status = "pass"
	Warn Status = "warn"
	Fail Status = "fail"
)

type Check struct {
	Name    string
	Status  Status
	Message string
}

type Report struct {
	Checks []Check
}

func (r Report) HasFailures() bool {
	for _, c := range r.Checks {
		if c.Status == Fail {
			return true
		}
	}
	return false
}

// displayBinaries are the X11 programs the computer tool and the display
// supervisor shell out to.
var displayBinaries = []string{"Xvfb", "x11vnc", "xdpyinfo", "xdotool", "scrot"}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// Run performs every diagnostic check and never aborts early on warnings.
func Run() (Report, error) {
	report := Report{Checks: make([]Check, 0, 8)}

	cfgPath, err := config.ConfigPath()
	if err != nil {
		report.add("config_path", Fail, fmt.Sprintf("cannot resolve config path: %v", err))
		return report, nil
	}

	if _, err := os.Stat(cfgPath); err != nil {
		if os.IsNotExist(err) {
			report.add("config_file", Warn, fmt.Sprintf("config file not found at %s (defaults will be used)", cfgPath))
		} else {
			report.add("config_file", Fail, fmt.Sprintf("cannot access config file: %v", err))
		}
	} else {
		report.add("config_file", Pass, fmt.Sprintf("config file found at %s", cfgPath))
	}

	cfg, err := config.Load()
	if err != nil {
		report.add("config_load", Fail, fmt.Sprintf("config load failed: %v", err))
		return report, nil
	}
	report.add("config_load", Pass, "configuration loads cleanly")

	if cfg.Anthropic.APIKey == "" {
		report.add("api_key", Warn, "no Anthropic API key configured (set DESKCLAW_ANTHROPIC_API_KEY or pass api_key per session)")
	} else {
		report.add("api_key", Pass, "Anthropic API key configured")
	}

	if cfg.Gateway.Host != "127.0.0.1" && cfg.Gateway.Host != "localhost" {
		report.add("gateway_host", Warn, fmt.Sprintf("gateway binds %s; the API is unauthenticated, prefer loopback", cfg.Gateway.Host))
	} else {
		report.add("gateway_host", Pass, fmt.Sprintf("gateway bound to loopback (%s:%d)", cfg.Gateway.Host, cfg.Gateway.Port))
	}

	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		report.add("data_dir", Fail, fmt.Sprintf("data dir %s not writable: %v", cfg.Paths.DataDir, err))
	} else {
		report.add("data_dir", Pass, fmt.Sprintf("data dir ready at %s", cfg.Paths.DataDir))
	}

	missing := []string{}
	for _, bin := range displayBinaries {
		if _, err := lookPath(bin); err != nil {
			missing = append(missing, bin)
		}
	}
	if len(missing) > 0 {
		report.add("display_binaries", Warn, fmt.Sprintf("missing X11 programs: %v (computer tool and display will be unavailable)", missing))
	} else {
		report.add("display_binaries", Pass, "all X11 programs found")
	}

	if cfg.Mirror.Enabled {
		if cfg.Mirror.Brokers == "" || cfg.Mirror.Topic == "" {
			report.add("mirror", Fail, "mirror enabled but brokers or topic missing")
		} else {
			report.add("mirror", Pass, fmt.Sprintf("mirror configured for topic %s", cfg.Mirror.Topic))
		}
	}

	return report, nil
}

func (r *Report) add(name string, status Status, msg string) {
	r.Checks = append(r.Checks, Check{Name: name, Status: status, Message: msg})
}
