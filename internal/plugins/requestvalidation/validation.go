// Package requestvalidation rejects request bodies that do not satisfy
// the configured JSON Schema.
package requestvalidation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/wudi/apigate/internal/errors"
	"github.com/wudi/apigate/internal/plugin"
)

func init() {
	plugin.Register("requestValidation", func() plugin.Config { return new(ValidationConfig) })
}

// ValidationConfig holds the inline JSON Schema.
type ValidationConfig struct {
	Schema json.RawMessage `json:"schema"`
}

// Create compiles the schema and builds the validation plugin.
func (c *ValidationConfig) Create() (plugin.Plugin, error) {
	var schemaDoc interface{}
	if err := json.Unmarshal(c.Schema, &schemaDoc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &validation{schema: schema}, nil
}

type validation struct {
	schema *jsonschema.Schema
}

func (p *validation) Priority() int { return 0 }

func (p *validation) Call(w http.ResponseWriter, r *http.Request, ctx *plugin.Context, next plugin.Next) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			errors.ErrBadRequest.WithDetails("failed to read request body").WriteJSON(w)
			return
		}
		r.Body.Close()
	}

	var value interface{}
	if err := json.Unmarshal(body, &value); err != nil {
		errors.ErrBadRequest.WithDetails("request body is not valid JSON").WriteJSON(w)
		return
	}
	if err := p.schema.Validate(value); err != nil {
		errors.ErrBadRequest.WithDetails(err.Error()).WriteJSON(w)
		return
	}

	// Restore the body for downstream plugins and the upstream
	r.Body = io.NopCloser(bytes.NewReader(body))
	next.Call(w, r, ctx)
}
