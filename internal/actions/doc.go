// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package actions implements the named operations the DIRECT tier runs
// instead of calling the provider: directory counts, attendance, fee and
// enrollment statistics, system status and the institution status report.
//
// Every action costs a fixed handful of tokens. The same registry backs the
// directory tools offered to the COMPLEX tier through ToolFunc.
package actions
