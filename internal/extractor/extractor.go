package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const maxOutputTokens = 4096

// LLM is the completion surface the extractor needs; satisfied by
// *gemini.Client and by test fakes.
type LLM interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

type Extractor struct {
	llm      LLM
	timezone string
	schema   *jsonschema.Schema
	logger   *slog.Logger
}

func New(llm LLM, timezone string, logger *slog.Logger) (*Extractor, error) {
	schema, err := compileExtractionSchema()
	if err != nil {
		return nil, err
	}
	return &Extractor{llm: llm, timezone: timezone, schema: schema, logger: logger}, nil
}

type llmResponse struct {
	Events []RawExtraction `json:"events"`
}

// Extract asks the model for every event mentioned in the message. The
// reference now instant is embedded in the prompt so the model reports date
// phrases verbatim rather than resolving them against its own clock.
func (e *Extractor) Extract(ctx context.Context, msg Message, now time.Time) (*Result, error) {
	prompt := fmt.Sprintf(extractionUserPrompt,
		now.Format("Monday, January 2, 2006, 3:04 PM MST"),
		e.timezone,
		msg.From,
		strings.Join(msg.CC, ", "),
		msg.Subject,
		msg.Body,
	)

	e.logger.Info("extracting events from message",
		"message_id", msg.ID,
		"thread_id", msg.ThreadID,
		"body_len", len(msg.Body),
	)

	raw, err := e.llm.Complete(ctx, systemPrompt, prompt, maxOutputTokens)
	if err != nil {
		return nil, fmt.Errorf("llm extraction: %w", err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(raw)))
	if err != nil {
		e.logger.Error("extraction response is not JSON", "message_id", msg.ID, "raw", raw)
		return nil, fmt.Errorf("parse extraction: %w", err)
	}
	if err := e.schema.Validate(inst); err != nil {
		e.logger.Error("extraction response failed schema validation", "message_id", msg.ID, "error", err)
		return nil, fmt.Errorf("validate extraction: %w", err)
	}

	var resp llmResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}

	e.logger.Info("extraction complete",
		"message_id", msg.ID,
		"events", len(resp.Events),
	)

	return &Result{
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		Events:    resp.Events,
	}, nil
}
