// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatch executes routed assistant queries and escalates failures.
//
// A request moves through a small state machine:
//
//	Routed -> TierExecuted -> Validated -> Done
//	                              |
//	                              +-> Escalated -> TierExecuted (once)
//
// DIRECT and SEMANTIC escalate straight to COMPLEX. COMPLEX is terminal: an
// invalid COMPLEX result is returned as-is.
//
// # Key Types
//
//   - Dispatcher: the Handle entry point
//   - DirectExecutor, SemanticExecutor, ComplexExecutor: one per tier
//   - Validator: judges tier results
//   - ConversationStore, Provider, SemanticIndex, ActionRunner,
//     ToolSelector, ToolRunner, StatusReporter: collaborator ports
//
// # Usage
//
//	d, err := dispatch.New(dispatch.Config{}, dispatch.Deps{
//	    Router:   r,
//	    Provider: p,
//	    Actions:  actionRegistry,
//	})
//	resp, err := d.Handle(ctx, dispatch.Query{
//	    Text:           "学生总数",
//	    ConversationID: "c-1",
//	    UserID:         "u-1",
//	})
package dispatch
