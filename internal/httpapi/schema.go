package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const updateStatusSchema = `{
	"type": "object",
	"required": ["status"],
	"additionalProperties": false,
	"properties": {
		"status": {"type": "string", "enum": ["new", "received", "done", "declined"]}
	}
}`

const replySchema = `{
	"type": "object",
	"required": ["message"],
	"additionalProperties": false,
	"properties": {
		"message": {"type": "string", "minLength": 1, "maxLength": 4000}
	}
}`

const bulkUpdateSchema = `{
	"type": "object",
	"required": ["appeal_ids", "status"],
	"additionalProperties": false,
	"properties": {
		"appeal_ids": {
			"type": "array",
			"minItems": 1,
			"maxItems": 500,
			"items": {"type": "integer", "minimum": 1}
		},
		"status": {"type": "string", "enum": ["new", "received", "done", "declined"]}
	}
}`

const createAppealSchema = `{
	"type": "object",
	"required": ["user_id", "text"],
	"additionalProperties": false,
	"properties": {
		"user_id": {"type": "integer", "minimum": 1},
		"username": {"type": "string", "maxLength": 255},
		"room": {"type": "string", "maxLength": 32},
		"text": {"type": "string", "minLength": 1, "maxLength": 4000},
		"request_type": {"type": "string", "maxLength": 64},
		"optional_comment": {"type": "string", "maxLength": 4000}
	}
}`

type requestSchemas struct {
	updateStatus *jsonschema.Schema
	reply        *jsonschema.Schema
	bulkUpdate   *jsonschema.Schema
	createAppeal *jsonschema.Schema
}

func compileRequestSchemas() (*requestSchemas, error) {
	compiler := jsonschema.NewCompiler()
	compile := func(name, source string) (*jsonschema.Schema, error) {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		if err := compiler.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
		schema, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		return schema, nil
	}

	schemas := &requestSchemas{}
	var err error
	if schemas.updateStatus, err = compile("update_status.json", updateStatusSchema); err != nil {
		return nil, err
	}
	if schemas.reply, err = compile("reply.json", replySchema); err != nil {
		return nil, err
	}
	if schemas.bulkUpdate, err = compile("bulk_update.json", bulkUpdateSchema); err != nil {
		return nil, err
	}
	if schemas.createAppeal, err = compile("create_appeal.json", createAppealSchema); err != nil {
		return nil, err
	}
	return schemas, nil
}

// decodeValidatedBody reads the request body, checks it against schema
// and unmarshals it into dst. Any failure has already been written to w
// when it returns false.
func (s *Server) decodeValidatedBody(w http.ResponseWriter, r *http.Request, correlationID string, schema *jsonschema.Schema, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return false
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	if err := schema.Validate(instance); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
