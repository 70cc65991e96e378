// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides the data structures shared by the answer
// service: session identity, progress steps, answer results, the
// client-facing FullUpdate snapshot and the request parameters.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxQueryBytes bounds the question text of a single request.
	MaxQueryBytes = 8 * 1024

	// MaxThreadIDLength bounds client-supplied thread identifiers.
	MaxThreadIDLength = 128
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// answerValidate is the validator instance for answer datatypes.
var answerValidate *validator.Validate

func init() {
	answerValidate = validator.New()
	_ = answerValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQueryBytes
}

// =============================================================================
// Session Identity
// =============================================================================

// SessionKey identifies one conversation: the authenticated user and a
// thread. It is comparable and used directly as a map key.
type SessionKey struct {
	UserID   string
	ThreadID string
}

// =============================================================================
// Request Types
// =============================================================================

// AnswerRequest carries the parameters of one answer turn.
//
// # Fields
//
//   - Query: Required. The user's question, at most 8KB.
//   - RepoRef: Required. The repository the question is about.
//   - ThreadID: Optional. Continues an existing thread when set; the
//     handler assigns a new UUID otherwise.
//
// The form tags bind the SSE endpoint's query string; the json tags bind
// the first websocket message.
type AnswerRequest struct {
	Query    string `form:"q" json:"q" validate:"required,maxbytes"`
	RepoRef  string `form:"repo_ref" json:"repo_ref" validate:"required,max=512"`
	ThreadID string `form:"thread_id" json:"thread_id" validate:"omitempty,max=128,printascii"`
}

// Validate checks the request against its validation tags.
func (r *AnswerRequest) Validate() error {
	return answerValidate.Struct(r)
}
