// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small string and file helpers.
//
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - EstimateTokens: CJK-aware token estimate for context budgeting
//   - AtomicWriteFile: crash-safe file writing with fsync
package util
