package router

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Stage responses are validated before a target is considered successful.
// A response that parses but does not match its stage schema is treated the
// same as a malformed one: retry the target, then advance the chain.

const extractionSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["claim"],
    "properties": {
      "claim": {"type": "string", "minLength": 1},
      "category": {"type": ["string", "null"]},
      "timestamp": {"type": ["string", "null"]},
      "specificity": {"type": ["string", "null"], "enum": ["vague", "specific", "quantified", null]}
    }
  }
}`

const adjudicationSchema = `{
  "type": "object",
  "required": ["verdict", "confidence", "explanation"],
  "properties": {
    "verdict": {"type": "string", "enum": ["supported", "partially_supported", "unsupported"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "explanation": {"type": "string", "minLength": 1},
    "nuance": {"type": ["string", "null"]}
  }
}`

const reportSchema = `{
  "type": "object",
  "required": ["summary", "overall_rating"],
  "properties": {
    "summary": {"type": "string", "minLength": 1},
    "overall_rating": {"type": "string", "enum": ["accurate", "mostly_accurate", "mixed", "misleading"]}
  }
}`

var stageSchemas = compileStageSchemas()

func compileStageSchemas() map[Stage]*jsonschema.Schema {
	documents := map[Stage]string{
		StageExtraction:   extractionSchema,
		StageAdjudication: adjudicationSchema,
		StageReport:       reportSchema,
	}
	compiled := make(map[Stage]*jsonschema.Schema, len(documents))
	for stage, document := range documents {
		compiler := jsonschema.NewCompiler()
		name := string(stage) + ".json"
		if err := compiler.AddResource(name, strings.NewReader(document)); err != nil {
			panic(fmt.Sprintf("add %s schema: %v", stage, err))
		}
		schema, err := compiler.Compile(name)
		if err != nil {
			panic(fmt.Sprintf("compile %s schema: %v", stage, err))
		}
		compiled[stage] = schema
	}
	return compiled
}

// validate extracts the JSON document from raw model output and checks it
// against the stage's schema. On success it returns the document re-encoded
// in canonical form.
func (r *Router) validate(stage Stage, content string) (json.RawMessage, error) {
	document, err := ExtractJSON(content)
	if err != nil {
		return nil, &SchemaError{Stage: stage, Err: err}
	}
	schema, ok := stageSchemas[stage]
	if !ok {
		return nil, &SchemaError{Stage: stage, Err: fmt.Errorf("no schema registered for stage %q", stage)}
	}
	var value any
	if err := json.Unmarshal(document, &value); err != nil {
		return nil, &SchemaError{Stage: stage, Err: err}
	}
	if err := schema.Validate(value); err != nil {
		return nil, &SchemaError{Stage: stage, Err: err}
	}
	return document, nil
}

// ExtractJSON pulls the first JSON value out of model output, tolerating
// markdown code fences and prose around the document.
func ExtractJSON(content string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, fmt.Errorf("empty response content")
	}

	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.IndexAny(trimmed, "{[")
	if start < 0 {
		return nil, fmt.Errorf("no JSON value in response content")
	}
	var closer byte
	if trimmed[start] == '{' {
		closer = '}'
	} else {
		closer = ']'
	}
	end := strings.LastIndexByte(trimmed, closer)
	if end <= start {
		return nil, fmt.Errorf("unterminated JSON value in response content")
	}
	candidate := trimmed[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, fmt.Errorf("response content is not valid JSON")
	}
	return json.RawMessage(candidate), nil
}
