package connector

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// connectorSchema constrains connector documents loaded from the store.
// Action templates missing a URL are tolerated here; the resolver decides
// whether synthesis can recover them.
const connectorSchema = `{
  "type": "object",
  "required": ["name", "protocol"],
  "properties": {
    "id": {"type": "string"},
    "name": {"type": "string", "minLength": 1},
    "protocol": {"type": "string", "minLength": 1},
    "parameters": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    },
    "credential": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    },
    "actions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["action_type", "method"],
        "properties": {
          "action_type": {"type": "string", "minLength": 1},
          "method": {"type": "string", "enum": ["GET", "POST", "PUT", "DELETE"]},
          "url": {"type": "string"},
          "headers": {
            "type": "object",
            "additionalProperties": {"type": "string"}
          },
          "request_body": {"type": "string"}
        }
      }
    }
  }
}`

var compiledConnectorSchema = jsonschema.MustCompileString("connector.schema.json", connectorSchema)

// ValidateDocument checks a raw connector JSON document against the schema.
func ValidateDocument(raw []byte) error {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("parse connector document: %w", err)
	}
	if err := compiledConnectorSchema.Validate(doc); err != nil {
		return fmt.Errorf("connector document invalid: %w", err)
	}
	return nil
}

// ParseDocument validates and unmarshals a stored connector document.
func ParseDocument(raw []byte) (Connector, error) {
	if err := ValidateDocument(raw); err != nil {
		return Connector{}, err
	}
	var c Connector
	if err := json.Unmarshal(raw, &c); err != nil {
		return Connector{}, fmt.Errorf("unmarshal connector document: %w", err)
	}
	return c, nil
}
