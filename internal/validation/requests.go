// Package validation checks inbound API requests against JSON Schema
// Draft 2020-12 before they reach the orchestrator.
package validation

import (
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tradewire/agentcore/pkg/schema"
)

// sharedDefs holds the $defs reused by every request schema.
const sharedDefs = `{
    "execution": {
      "type": "object",
      "properties": {
        "approvalMode": {
          "type": "string",
          "enum": ["propose_only", "execute"]
        },
        "executeTools": { "type": "boolean" },
        "enabledTools": {
          "type": "array",
          "items": { "type": "string", "minLength": 1 }
        },
        "approvals": {
          "type": "array",
          "items": { "$ref": "#/$defs/approval" }
        }
      },
      "additionalProperties": false
    },
    "approval": {
      "type": "object",
      "required": ["scope"],
      "properties": {
        "scope": { "type": "string", "minLength": 1 },
        "group": { "type": "string" },
        "status": { "type": "string" }
      },
      "additionalProperties": false
    },
    "retryPolicy": {
      "type": "object",
      "required": ["maxAttempts"],
      "properties": {
        "maxAttempts": {
          "type": "integer",
          "minimum": 1
        },
        "backoffMs": {
          "type": "integer",
          "minimum": 0
        }
      },
      "additionalProperties": false
    }
  }`

// runRequestSchemaJSON validates POST /workflows/run bodies. The input
// object is open except for the execution and retryPolicy sections,
// which must be well-formed when present.
const runRequestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://agentcore.dev/schemas/run-request.json",
  "type": "object",
  "required": ["workflow", "adapter", "input"],
  "properties": {
    "workflow": {
      "type": "string",
      "enum": ["new_partner_implementation"]
    },
    "adapter": {
      "type": "string",
      "minLength": 1
    },
    "input": {
      "type": "object",
      "properties": {
        "execution": { "$ref": "#/$defs/execution" },
        "retryPolicy": { "$ref": "#/$defs/retryPolicy" }
      }
    }
  },
  "additionalProperties": false,
  "$defs": ` + sharedDefs + `
}`

// resumeRequestSchemaJSON validates POST /workflows/runs/{id}/resume
// bodies. Every field is optional; an empty object resumes with the
// stored input unchanged.
const resumeRequestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://agentcore.dev/schemas/resume-request.json",
  "type": "object",
  "properties": {
    "fromStep": {
      "type": "string",
      "minLength": 1
    },
    "execution": { "$ref": "#/$defs/execution" },
    "retryPolicy": { "$ref": "#/$defs/retryPolicy" }
  },
  "additionalProperties": false,
  "$defs": ` + sharedDefs + `
}`

// webhookRequestSchemaJSON validates POST /webhooks bodies.
const webhookRequestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://agentcore.dev/schemas/webhook-request.json",
  "type": "object",
  "required": ["url"],
  "properties": {
    "url": {
      "type": "string",
      "minLength": 1,
      "pattern": "^https?://"
    },
    "events": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 }
    },
    "secret": { "type": "string" },
    "active": { "type": "boolean" }
  },
  "additionalProperties": false
}`

// RequestValidator holds the pre-compiled request schemas. Safe for
// concurrent use.
type RequestValidator struct {
	run     *jsonschema.Schema
	resume  *jsonschema.Schema
	webhook *jsonschema.Schema
}

// NewRequestValidator compiles all request schemas once.
func NewRequestValidator() (*RequestValidator, error) {
	run, err := compileSchema("https://agentcore.dev/schemas/run-request.json", runRequestSchemaJSON)
	if err != nil {
		return nil, err
	}
	resume, err := compileSchema("https://agentcore.dev/schemas/resume-request.json", resumeRequestSchemaJSON)
	if err != nil {
		return nil, err
	}
	webhook, err := compileSchema("https://agentcore.dev/schemas/webhook-request.json", webhookRequestSchemaJSON)
	if err != nil {
		return nil, err
	}
	return &RequestValidator{run: run, resume: resume, webhook: webhook}, nil
}

// ValidateRun checks a workflow run request body.
func (v *RequestValidator) ValidateRun(body []byte) error {
	return validate(v.run, body)
}

// ValidateResume checks a run resume request body.
func (v *RequestValidator) ValidateResume(body []byte) error {
	return validate(v.resume, body)
}

// ValidateWebhook checks a webhook subscription request body.
func (v *RequestValidator) ValidateWebhook(body []byte) error {
	return validate(v.webhook, body)
}

func compileSchema(url, doc string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
	}
	if err := c.AddResource(url, parsed); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", url, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", url, err)
	}
	return compiled, nil
}

func validate(compiled *jsonschema.Schema, body []byte) error {
	if len(body) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "request body is empty")
	}
	// Decode through the jsonschema reader so numbers become
	// json.Number, which the validator requires.
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(body)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "request body is not valid JSON").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toAgentCoreError(err)
	}
	return nil
}

// toAgentCoreError converts a jsonschema.ValidationError into an
// AgentCoreError with one message per violated constraint.
func toAgentCoreError(err error) *schema.AgentCoreError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
