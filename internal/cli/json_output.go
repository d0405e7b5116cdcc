// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// json_output.go - Machine-readable output for kgassist commands.
//
// With --json every command prints one JSONResponse on stdout; human-readable
// progress goes to stderr.

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// JSONResponse is the envelope printed by every command in JSON mode.
type JSONResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	// Error is null on success.
	Error     *string `json:"error"`
	Timestamp string  `json:"timestamp"`
	Command   string  `json:"command,omitempty"`
}

// NewJSONResponse creates a successful response.
func NewJSONResponse(command string, data interface{}) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a failed response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	msg := err.Error()
	return &JSONResponse{
		Success:   false,
		Error:     &msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Write encodes the response to w with indentation.
func (r *JSONResponse) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// String returns the indented JSON form.
func (r *JSONResponse) String() string {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":"failed to marshal response: %s","timestamp":"%s"}`,
			err.Error(), time.Now().UTC().Format(time.RFC3339))
	}
	return string(data)
}

// OutputJSON runs handler and, in json mode, prints its result or error as a
// JSONResponse. In text mode human prints its own output.
func OutputJSON(w io.Writer, jsonMode bool, command string, handler func() (interface{}, error), human func(data interface{})) error {
	data, err := handler()
	if !jsonMode {
		if err == nil && human != nil {
			human(data)
		}
		return err
	}
	if err != nil {
		NewJSONErrorResponse(command, err).Write(w)
		return errPrinted{err}
	}
	return NewJSONResponse(command, data).Write(w)
}

// errPrinted marks an error already reported on stdout in JSON mode.
type errPrinted struct{ error }

func (e errPrinted) Unwrap() error { return e.error }
