package orchestrator

import (
	"fmt"
	"strings"
)

// Skip reasons reported through OnTaskSkipped.
const (
	ReasonTaskNotFound   = "task not found"
	ReasonNoToolSelected = "no CLI tool selected"
)

// UnsatisfiedReason names the dependency ids that blocked a task.
func UnsatisfiedReason(ids []string) string {
	return "unsatisfied dependencies: " + strings.Join(ids, ", ")
}

// ToolNotFoundReason is reported when the selected tool is not configured.
func ToolNotFoundReason(name string) string {
	return "CLI tool not found: " + name
}

// ToolDisabledReason is reported when the selected tool is switched off.
func ToolDisabledReason(name string) string {
	return "CLI tool disabled: " + name
}

// CLIFailureReason describes a non-zero tool exit.
func CLIFailureReason(exitCode int, output string) string {
	output = strings.TrimSpace(output)
	if output == "" {
		output = "Unknown error"
	}
	return fmt.Sprintf("CLI tool failed with exit code %d: %s", exitCode, output)
}
