package validation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/singleflight"

	"github.com/vietddude/aiprocessor/internal/core/failure"
)

// ResultValidator cleans raw AI text and checks it against the schema of its ref.
// Compiled schemas are cached per ref for the lifetime of the process.
type ResultValidator struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
	group   singleflight.Group
}

func NewResultValidator() *ResultValidator {
	return &ResultValidator{schemas: make(map[string]*gojsonschema.Schema)}
}

// CleanAndValidate returns the JSON object embedded in rawText once it parses,
// conforms to schemaJSON and carries a confidence inside [0,1] when present.
func (v *ResultValidator) CleanAndValidate(rawText, schemaJSON, ref string) (string, error) {
	cleaned := ExtractJSON(rawText)

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return "", failure.Validation(ref, "malformed JSON", err)
	}
	if dec.More() {
		return "", failure.Validation(ref, "malformed JSON", fmt.Errorf("trailing data after JSON value"))
	}

	schema, err := v.schema(ref, schemaJSON)
	if err != nil {
		return "", failure.Validation(ref, "invalid JSON schema configuration", err)
	}

	res, err := schema.Validate(gojsonschema.NewBytesLoader([]byte(cleaned)))
	if err != nil {
		return "", failure.Validation(ref, "malformed JSON", err)
	}
	if !res.Valid() {
		return "", failure.Validation(ref, "schema violation: "+joinViolations(res.Errors()), nil)
	}

	if err := checkConfidence(doc); err != nil {
		return "", failure.Validation(ref, err.Error(), nil)
	}
	return cleaned, nil
}

func (v *ResultValidator) schema(ref, schemaJSON string) (*gojsonschema.Schema, error) {
	v.mu.RLock()
	s, ok := v.schemas[ref]
	v.mu.RUnlock()
	if ok {
		return s, nil
	}

	out, err, _ := v.group.Do(ref, func() (any, error) {
		v.mu.RLock()
		s, ok := v.schemas[ref]
		v.mu.RUnlock()
		if ok {
			return s, nil
		}

		s, err := CompileSchema(schemaJSON)
		if err != nil {
			return nil, err
		}
		v.mu.Lock()
		v.schemas[ref] = s
		v.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*gojsonschema.Schema), nil
}

// CompileSchema parses a JSON schema document.
func CompileSchema(schemaJSON string) (*gojsonschema.Schema, error) {
	if strings.TrimSpace(schemaJSON) == "" {
		return nil, fmt.Errorf("empty schema")
	}
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
}

func joinViolations(errs []gojsonschema.ResultError) string {
	msgs := make([]string, 0, len(errs))
	for _, desc := range errs {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", field, desc.Description()))
	}
	sort.Strings(msgs)
	return strings.Join(msgs, "; ")
}

func checkConfidence(doc any) error {
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := obj["confidence"]
	if !ok || raw == nil {
		return nil
	}

	num, ok := raw.(json.Number)
	if !ok {
		return fmt.Errorf("Confidence is not a number")
	}
	c, err := num.Float64()
	if err != nil || c < 0 || c > 1 {
		return fmt.Errorf("Confidence out of range: %s", num.String())
	}
	return nil
}

