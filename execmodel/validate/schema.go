// Package validate compiles and applies JSON schemas for the two opaque
// JSON blobs the execution model persists without otherwise inspecting:
// Workflow.IntentSpec and Script.HandlerConfig (spec.md §3's Workflow
// attributes). Grounded on registry.validatePayloadJSONAgainstSchema's
// unmarshal-compile-validate sequence, switched from a per-call schema
// argument to two schemas compiled once at package init, since this
// package validates a fixed pair of known shapes rather than arbitrary
// tool payloads. Library: github.com/santhosh-tekuri/jsonschema/v6.
package validate

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// handlerConfigSchema is the JSON Schema for execmodel.HandlerConfig: a
// declared producer/consumer set with per-producer schedules.
const handlerConfigSchema = `{
  "type": "object",
  "properties": {
    "producers": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "schedule_type": {"type": "string", "enum": ["interval", "cron"]},
          "schedule_value": {"type": "string", "minLength": 1}
        },
        "required": ["name", "schedule_type", "schedule_value"],
        "additionalProperties": true
      }
    },
    "consumers": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "topics": {
            "type": "array",
            "items": {"type": "string", "minLength": 1}
          }
        },
        "required": ["name", "topics"],
        "additionalProperties": true
      }
    }
  },
  "additionalProperties": true
}`

// intentSpecSchema is the JSON Schema for Workflow.IntentSpec: the
// structured form of the user's request that a script was generated from.
// spec.md names the field but leaves its internal shape to the
// implementation; "goal" is the one attribute every downstream consumer
// (script generation, the UI's workflow summary) needs to be present.
const intentSpecSchema = `{
  "type": "object",
  "properties": {
    "goal": {"type": "string", "minLength": 1},
    "constraints": {
      "type": "array",
      "items": {"type": "string"}
    },
    "context": {"type": "object"}
  },
  "required": ["goal"],
  "additionalProperties": true
}`

var (
	compiledHandlerConfig *jsonschema.Schema
	compiledIntentSpec    *jsonschema.Schema
)

func init() {
	compiledHandlerConfig = mustCompile("handler_config.json", handlerConfigSchema)
	compiledIntentSpec = mustCompile("intent_spec.json", intentSpecSchema)
}

func mustCompile(resourceName, schemaJSON string) *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal([]byte(schemaJSON), &doc); err != nil {
		panic(fmt.Sprintf("validate: parsing built-in schema %s: %v", resourceName, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceName, doc); err != nil {
		panic(fmt.Sprintf("validate: adding built-in schema %s: %v", resourceName, err))
	}
	s, err := c.Compile(resourceName)
	if err != nil {
		panic(fmt.Sprintf("validate: compiling built-in schema %s: %v", resourceName, err))
	}
	return s
}

// HandlerConfig validates raw against the HandlerConfig schema. An empty
// blob is valid (spec.md's "no producers or consumers declared" default).
func HandlerConfig(raw []byte) error {
	return validateAgainst(compiledHandlerConfig, raw)
}

// IntentSpec validates raw against the IntentSpec schema. An empty blob is
// valid — a workflow may be created before its intent is captured.
func IntentSpec(raw []byte) error {
	return validateAgainst(compiledIntentSpec, raw)
}

func validateAgainst(schema *jsonschema.Schema, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("validate: unmarshal: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return nil
}
