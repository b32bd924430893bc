package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// maxBodyBytes bounds submission payload size.
const maxBodyBytes = 1 << 20

const detectionSchema = `{
	"type": "object",
	"required": ["content_hash", "is_deepfake", "confidence_bp"],
	"properties": {
		"content_hash":    {"type": "string", "pattern": "^(0x)?[0-9a-fA-F]{1,64}$"},
		"perceptual_hash": {"type": "string", "maxLength": 256},
		"is_deepfake":     {"type": "boolean"},
		"confidence_bp":   {"type": "integer", "minimum": 0, "maximum": 10000},
		"lipsync_bp":      {"type": "integer", "minimum": 0, "maximum": 10000},
		"fact_check_bp":   {"type": "integer", "minimum": 0, "maximum": 10000},
		"ip_hash":         {"type": "string", "pattern": "^(0x)?[0-9a-fA-F]{1,64}$"},
		"country":         {"type": "string", "maxLength": 64},
		"city":            {"type": "string", "maxLength": 128},
		"lat":             {"type": "integer"},
		"lon":             {"type": "integer"},
		"metadata":        {"type": "string", "maxLength": 4096}
	},
	"additionalProperties": false
}`

const sightingSchema = `{
	"type": "object",
	"required": ["content_hash"],
	"properties": {
		"content_hash": {"type": "string", "pattern": "^(0x)?[0-9a-fA-F]{1,64}$"},
		"ip_hash":      {"type": "string", "pattern": "^(0x)?[0-9a-fA-F]{1,64}$"},
		"country":      {"type": "string", "maxLength": 64},
		"city":         {"type": "string", "maxLength": 128},
		"lat":          {"type": "integer"},
		"lon":          {"type": "integer"},
		"platform":     {"type": "string", "maxLength": 64},
		"source_url":   {"type": "string", "maxLength": 2048}
	},
	"additionalProperties": false
}`

var (
	compiledDetection = mustCompile("detection", detectionSchema)
	compiledSighting  = mustCompile("sighting", sightingSchema)
)

func mustCompile(name, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://sentinelmesh.dev/schemas/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		panic(err)
	}
	return c.MustCompile(url)
}

// decodeJSON decodes a size-limited request body without schema checks,
// for endpoints whose validation lives in the domain layer.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// decodeValidated reads the request body, validates it against schema and
// decodes it into dst.
func decodeValidated(r *http.Request, schema *jsonschema.Schema, dst any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
