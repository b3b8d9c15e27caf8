package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxBodyBytes = 1 << 20

// startSchema checks the shape of a start request. Semantic checks (known
// steps, positive upload id, non-empty scope) stay with the registry.
const startSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "upload_id": {"type": "integer"},
    "steps": {"type": "array", "items": {"type": "string"}},
    "filters": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "ids": {"type": "array", "items": {"type": "integer"}},
        "emails": {"type": "array", "items": {"type": "string"}},
        "websites": {"type": "array", "items": {"type": "string"}},
        "skip_processed": {"type": "boolean"}
      }
    }
  }
}`

var startRequestSchema = jsonschema.MustCompileString("start_request.json", startSchema)

// decodeValidated reads a JSON body, validates it against schema and
// decodes it into dst.
func decodeValidated(r *http.Request, schema *jsonschema.Schema, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return eris.Wrap(err, "api: read body")
	}
	if len(body) > maxBodyBytes {
		return eris.New("api: request body too large")
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return eris.New("api: invalid request body")
	}
	if err := schema.Validate(doc); err != nil {
		return eris.Wrap(err, "api: invalid request body")
	}
	return eris.Wrap(json.Unmarshal(body, dst), "api: decode body")
}
