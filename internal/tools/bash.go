package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// DenyPatterns contains regex patterns for commands that are never run,
// regardless of what the model asks for.
var DenyPatterns = []string{
	`\brm\s+(-[rf]+\s+)*[/~]`, // rm with root or home
	`\brm\s+-rf\b`,            // rm -rf anywhere
	`\brm\s+-r[fF]?\s+\.\b`,   // rm -r . / rm -rf .
	`\brm\s+-r[fF]?\s+\*`,     // rm -r *
	`\bdd\b.*\bof=/dev/`,      // dd to device
	`\bmkfs\b`,                // filesystem format
	`\bfdisk\b`,               // partition tool
	`>\s*/dev/sd`,             // redirect to block device
	`\bchmod\s+-R\s+777\s+/`,  // chmod 777 on root
	`\bchown\s+-R\b.*\s/\S*$`, // chown recursive on root
	`:\(\)\s*{\s*:\|:&\s*};:`, // fork bomb
	`\bshutdown\b`,            // shutdown
	`\breboot\b`,              // reboot
	`\bhalt\b`,                // halt
	`\binit\s+[0-6]\b`,        // init level change
}

// PathPatterns for detecting path traversal attempts.
var PathPatterns = []string{
	`\.\.\/`, // ../
	`\.\.\\`, // ..\
	`\/\.\.`, // /..
	`\\\.\.`, // \..
}

// BashTool executes shell commands inside the session's environment.
type BashTool struct {
	RestrictToWorkspace bool
	WorkDir             string
	denyRegexes         []*regexp.Regexp
	pathRegexes         []*regexp.Regexp
}

// NewBashTool creates a new BashTool. If restrictToWorkspace is set,
// commands may only run inside workDir.
func NewBashTool(restrictToWorkspace bool, workDir string) *BashTool {
	denyRegexes := make([]*regexp.Regexp, 0, len(DenyPatterns))
	for _, pattern := range DenyPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			denyRegexes = append(denyRegexes, re)
		}
	}
	pathRegexes := make([]*regexp.Regexp, 0, len(PathPatterns))
	for _, pattern := range PathPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			pathRegexes = append(pathRegexes, re)
		}
	}
	return &BashTool{
		RestrictToWorkspace: restrictToWorkspace,
		WorkDir:             workDir,
		denyRegexes:         denyRegexes,
		pathRegexes:         pathRegexes,
	}
}

func (t *BashTool) Name() string { return "bash" }

func (t *BashTool) Description() string {
	return "Execute a shell command and return its stdout, stderr and exit code."
}

func (t *BashTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"working_dir": map[string]any{
				"type":        "string",
				"description": "Optional working directory for the command",
			},
		},
		"required": []string{"command"},
	}
}

func (t *BashTool) Execute(ctx context.Context, params map[string]any) (Result, error) {
	command := GetString(params, "command", "")
	workingDir := GetString(params, "working_dir", t.WorkDir)

	if command == "" {
		return Result{}, argErrorf("bash: command is required")
	}
	if err := t.guardCommand(command, workingDir); err != nil {
		return Result{}, err
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if workingDir != "" {
		cmd.Dir = workingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var result strings.Builder
	if stdout.Len() > 0 {
		result.WriteString(stdout.String())
	}
	if stderr.Len() > 0 {
		if result.Len() > 0 {
			result.WriteString("\n")
		}
		result.WriteString("STDERR:\n")
		result.WriteString(stderr.String())
	}

	if ctx.Err() == context.DeadlineExceeded {
		return Result{Text: result.String()}, context.DeadlineExceeded
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.WriteString(fmt.Sprintf("\nExit code: %d", exitErr.ExitCode()))
		} else {
			return Result{}, fmt.Errorf("bash: %w", err)
		}
	}

	if result.Len() == 0 {
		return Result{Text: "(no output)"}, nil
	}
	return Result{Text: result.String()}, nil
}

func (t *BashTool) guardCommand(command, workingDir string) error {
	for _, re := range t.denyRegexes {
		if re.MatchString(command) {
			return argErrorf("bash: command blocked by safety policy")
		}
	}
	if t.RestrictToWorkspace && t.WorkDir != "" {
		for _, re := range t.pathRegexes {
			if re.MatchString(command) {
				return argErrorf("bash: path traversal not allowed")
			}
		}
		if workingDir != "" {
			absWorkDir, err := filepath.Abs(t.WorkDir)
			if err != nil {
				return fmt.Errorf("bash: resolve workspace: %w", err)
			}
			absWorkingDir, err := filepath.Abs(workingDir)
			if err != nil {
				return argErrorf("bash: invalid working_dir %q", workingDir)
			}
			if absWorkingDir != absWorkDir && !strings.HasPrefix(absWorkingDir, absWorkDir+string(filepath.Separator)) {
				return argErrorf("bash: working_dir outside workspace")
			}
		}
	}
	return nil
}
