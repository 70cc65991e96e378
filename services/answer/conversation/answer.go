// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/AleutianAI/AleutianAnswer/services/answer/datatypes"
	"github.com/AleutianAI/AleutianAnswer/services/answer/partial"
	"github.com/AleutianAI/AleutianAnswer/services/llm"
)

// answer streams the final answer to question. After every token the
// partial reply is repaired into a result list and sent as a Result
// update, so clients render the answer while it is written.
func (c *Conversation) answer(ctx context.Context, env *Env, question string, updates chan<- datatypes.Update) error {
	history, err := marshalObservation(c.userMessages())
	if err != nil {
		return err
	}
	prompt, err := env.Prompts.FinalExplanation(history, question)
	if err != nil {
		return err
	}

	stream, err := env.LLM.Chat(ctx, []llm.Message{llm.SystemMessage(prompt)}, chatParams(env.Model))
	if err != nil {
		return fmt.Errorf("request answer: %w", err)
	}
	defer stream.Close()

	var buffer string
	for {
		tok, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream answer: %w", err)
		}
		buffer += tok

		if err := send(ctx, updates, datatypes.ResultUpdate(c.partialResults(buffer))); err != nil {
			return err
		}
	}
}

// partialResults decodes whatever prefix of the answer has arrived.
func (c *Conversation) partialResults(buffer string) []datatypes.SearchResult {
	fixed, _ := partial.Rectify(buffer)

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(fixed), &entries); err != nil {
		panic(fmt.Sprintf("conversation: repaired answer %q is not a JSON array: %v", fixed, err))
	}

	results := make([]datatypes.SearchResult, 0, len(entries))
	for _, e := range entries {
		if r, ok := datatypes.SearchResultFromJSONArray(e); ok {
			results = append(results, r.SubstitutePathAlias(c.PathAliases))
		}
	}
	return results
}
