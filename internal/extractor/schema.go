package extractor

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// extractionSchema guards against the model drifting from the contract:
// malformed shapes are rejected before any field is trusted downstream.
const extractionSchema = `{
  "type": "object",
  "required": ["events"],
  "properties": {
    "events": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title", "confidence"],
        "properties": {
          "title": {"type": "string"},
          "description": {"type": "string"},
          "date_text": {"type": "string"},
          "recurrence_text": {"type": "string"},
          "location": {"type": "string"},
          "duration_minutes": {"type": "integer", "minimum": 0},
          "attendees": {"type": "array", "items": {"type": "string"}},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    }
  }
}`

func compileExtractionSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(extractionSchema))
	if err != nil {
		return nil, fmt.Errorf("parse extraction schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("extraction.json", doc); err != nil {
		return nil, fmt.Errorf("add extraction schema: %w", err)
	}
	schema, err := compiler.Compile("extraction.json")
	if err != nil {
		return nil, fmt.Errorf("compile extraction schema: %w", err)
	}
	return schema, nil
}
