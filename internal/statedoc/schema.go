package statedoc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const statusSchemaURL = "https://schemas.agentworkforce.dev/mirrorrelay/status-document.json"

const statusSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["stats"],
  "properties": {
    "stats": {
      "type": "object",
      "properties": {
        "totalSyncs": {"type": "integer", "minimum": 0},
        "totalFiles": {"type": "integer", "minimum": 0},
        "lastSync": {"type": ["string", "null"]}
      }
    },
    "history": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["time", "files"],
        "properties": {
          "time": {"type": "string"},
          "files": {"type": "integer", "minimum": 0},
          "details": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

var statusSchema = mustCompileStatusSchema()

func mustCompileStatusSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(statusSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("status schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(statusSchemaURL, doc); err != nil {
		panic(fmt.Sprintf("status schema: %v", err))
	}
	schema, err := c.Compile(statusSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("status schema: %v", err))
	}
	return schema
}

// DecodeStatusDocument validates payload against the document schema before
// decoding it.
func DecodeStatusDocument(payload []byte) (StatusDocument, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return StatusDocument{}, fmt.Errorf("malformed status document: %w", err)
	}
	if err := statusSchema.Validate(inst); err != nil {
		return StatusDocument{}, fmt.Errorf("invalid status document: %w", err)
	}
	var doc StatusDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return StatusDocument{}, fmt.Errorf("malformed status document: %w", err)
	}
	return doc, nil
}
