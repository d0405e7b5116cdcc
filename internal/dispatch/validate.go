// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"fmt"
	"strings"

	"github.com/jeranaias/kgassist/internal/util"
)

// Validation failure reasons.
const (
	ReasonNoResult      = "no_result"
	ReasonFailed        = "failed"
	ReasonEmpty         = "empty"
	ReasonBlank         = "blank"
	ReasonInvalidPhrase = "invalid_phrase"
	ReasonZeroTokens    = "zero_tokens"
)

// zeroTokenTextLimit is the text length above which a zero token count is
// treated as a silent failure.
const zeroTokenTextLimit = 10

// DefaultInvalidPhrases are generic placeholder answers that mean a tier
// produced nothing useful.
var DefaultInvalidPhrases = []string{
	"暂不支持此类查询",
	"无法处理该请求",
	"查询失败",
	"未找到相关信息",
}

// ValidationError is the verdict on an unusable tier result.
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "invalid result: " + e.Reason
	}
	return fmt.Sprintf("invalid result: %s: %s", e.Reason, e.Detail)
}

// Validator judges tier results.
type Validator struct {
	phrases []string
}

// NewValidator creates a validator with the default phrases plus extra.
func NewValidator(extra ...string) *Validator {
	phrases := make([]string, 0, len(DefaultInvalidPhrases)+len(extra))
	phrases = append(phrases, DefaultInvalidPhrases...)
	for _, p := range extra {
		if p = strings.TrimSpace(p); p != "" {
			phrases = append(phrases, p)
		}
	}
	return &Validator{phrases: phrases}
}

// Validate returns nil for a usable result and a *ValidationError otherwise.
func (v *Validator) Validate(r *ExecutionResult) error {
	if r == nil {
		return &ValidationError{Reason: ReasonNoResult}
	}
	if !r.Success {
		return &ValidationError{Reason: ReasonFailed, Detail: r.Error}
	}
	if r.Text == "" && r.Data == nil {
		return &ValidationError{Reason: ReasonEmpty}
	}
	for _, p := range v.phrases {
		if strings.Contains(r.Text, p) {
			return &ValidationError{Reason: ReasonInvalidPhrase, Detail: p}
		}
	}
	if r.Text != "" && strings.TrimSpace(r.Text) == "" {
		return &ValidationError{Reason: ReasonBlank}
	}
	if r.TokensUsed == 0 && util.RuneLen(r.Text) > zeroTokenTextLimit {
		return &ValidationError{Reason: ReasonZeroTokens}
	}
	return nil
}
