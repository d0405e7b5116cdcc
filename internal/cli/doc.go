// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the kgassist command line with cobra.
//
// # Commands
//
//	kgassist serve [--addr] [--anonymous]   run the HTTP API
//	kgassist ask <query> [--role --tools]   answer one query locally
//	kgassist route <query>                  show the routing decision only
//	kgassist stats [--addr --token]         fetch /api/ai/stats from a server
//	kgassist db init|seed                   create or fill the database
//	kgassist dict check [dir]               validate dictionary files
//	kgassist config init|show|get|set|path  manage the config file
//	kgassist doctor                         installation health checks
//	kgassist version
//
// Every command accepts --json and then prints exactly one JSONResponse on
// stdout. Logs go to stderr.
//
// NewApp assembles the runtime from a config.Config: sqlite storage, the
// action registry, the semantic index (Redis cached when configured), the
// router, the provider client, tools and the dispatcher.
package cli
