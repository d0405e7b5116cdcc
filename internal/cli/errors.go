// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error reporting and exit codes for kgassist commands.
//
// Commands always return errors; Execute decides how to display them and
// which exit code to use.

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/kgassist/internal/config"
	"github.com/jeranaias/kgassist/internal/dispatch"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	// ExitUsageError indicates invalid arguments or a rejected query.
	ExitUsageError = 2
	// ExitConfigError indicates an unreadable or invalid configuration.
	ExitConfigError = 3
	// ExitNetworkError indicates the server or provider was unreachable.
	ExitNetworkError = 5
	// ExitTimeoutError indicates an operation timed out.
	ExitTimeoutError = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError is a failed command step.
type CommandError struct {
	Command string
	Action  string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Command, e.Action, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ConfigError wraps configuration load or validation failures.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return fmt.Sprintf("configuration %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NetworkError wraps failures to reach a remote endpoint.
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("cannot reach %s: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewCommandError wraps err with the command and step that failed.
func NewCommandError(command, action string, err error) error {
	return &CommandError{Command: command, Action: action, Err: err}
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError writes err to w, as JSON in json mode.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if !jsonMode {
		fmt.Fprintf(w, "[ERROR] %s\n", err)
		return
	}

	output := map[string]interface{}{
		"success":    false,
		"error":      err.Error(),
		"error_type": errorType(err),
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		output["command"] = cmdErr.Command
		output["action"] = cmdErr.Action
	}
	var verrs config.ValidateErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, v := range verrs {
			fields = append(fields, v.Field)
		}
		output["fields"] = fields
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(output)
}

func errorType(err error) string {
	var cfgErr *ConfigError
	var netErr *NetworkError
	var cmdErr *CommandError
	switch {
	case errors.As(err, &cfgErr):
		return "config_error"
	case errors.As(err, &netErr):
		return "network_error"
	case errors.Is(err, dispatch.ErrInvalidRequest):
		return "validation_error"
	case errors.As(err, &cmdErr):
		return "command_error"
	default:
		return "generic_error"
	}
}

// GetExitCode maps an error to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var cfgErr *ConfigError
	var netErr *NetworkError
	switch {
	case errors.As(err, &cfgErr):
		return ExitConfigError
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeoutError
	case errors.As(err, &netErr):
		return ExitNetworkError
	case errors.Is(err, dispatch.ErrInvalidRequest):
		return ExitUsageError
	default:
		return ExitGeneralError
	}
}
