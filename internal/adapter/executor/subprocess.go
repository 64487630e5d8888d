// Package executor provides domain.Executor implementations. The subprocess
// executor shells out to an agent CLI, one invocation per task.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"taskrunner/internal/domain"
)

// Subprocess runs each task as a child process of a configured command. The
// task prompt is appended as the final argument and the workspace becomes the
// working directory.
type Subprocess struct {
	command string
	args    []string
	logger  *slog.Logger
}

// NewSubprocess creates a subprocess executor.
func NewSubprocess(command string, args []string, logger *slog.Logger) *Subprocess {
	return &Subprocess{command: command, args: args, logger: logger}
}

// agentOutput is the optional structured result an agent command may print on
// its last stdout line.
type agentOutput struct {
	Message      string   `json:"message"`
	CostUSD      float64  `json:"cost_usd"`
	FilesChanged []string `json:"files_changed"`
	ToolsUsed    []string `json:"tools_used"`
}

func (e *Subprocess) Run(ctx context.Context, task *domain.Task) (*domain.TaskResult, error) {
	args := append(append([]string(nil), e.args...), task.Prompt)
	cmd := exec.CommandContext(ctx, e.command, args...)
	if task.Workspace != "" {
		cmd.Dir = task.Workspace
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail := strings.TrimSpace(stderr.String())
			if detail == "" {
				detail = strings.TrimSpace(stdout.String())
			}
			e.logger.Debug("agent command failed",
				"task_id", task.ID,
				"exit_code", exitErr.ExitCode(),
				"duration", elapsed)
			return nil, fmt.Errorf("agent exited with code %d: %s", exitErr.ExitCode(), detail)
		}
		return nil, domain.NewExecutionError(domain.KindPermanent, fmt.Errorf("start agent command: %w", err))
	}

	result := parseResult(stdout.String())
	result.DurationMs = elapsed.Milliseconds()
	return result, nil
}

// parseResult interprets the command output. If the last non-empty line is a
// JSON object it is decoded as a structured result; otherwise the whole output
// becomes the result message.
func parseResult(out string) *domain.TaskResult {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if strings.HasPrefix(last, "{") {
		var parsed agentOutput
		if err := json.Unmarshal([]byte(last), &parsed); err == nil {
			return &domain.TaskResult{
				Message:      parsed.Message,
				CostUSD:      parsed.CostUSD,
				FilesChanged: parsed.FilesChanged,
				ToolsUsed:    parsed.ToolsUsed,
			}
		}
	}
	return &domain.TaskResult{Message: strings.TrimSpace(out)}
}
