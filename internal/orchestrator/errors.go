// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import "errors"

// Usage errors, returned synchronously to the caller. Stage failures are
// reported inside a Result instead.
var (
	ErrNotInitialized  = errors.New("orchestrator is not initialized")
	ErrUnknownAgent    = errors.New("unknown agent")
	ErrUnknownWorkflow = errors.New("unknown workflow")
	// ErrStageTimeout is wrapped into the error of a stage whose agent did
	// not respond within the configured stage timeout.
	ErrStageTimeout = errors.New("stage timed out")
)
