package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON []byte

var (
	compiledSchema     *jsonschema.Schema
	compiledSchemaErr  error
	compiledSchemaOnce sync.Once
)

func loadSchema() (*jsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("invalid schema: %w", err)
			return
		}
		compiledSchema, compiledSchemaErr = compiler.Compile("schema.json")
	})
	return compiledSchema, compiledSchemaErr
}

// ValidateDocument checks a decoded configuration document against the
// configuration schema.
//
// The document may come from YAML or JSON; it is normalized through JSON
// before validation. Returns nil if valid, or ValidationErrors listing every
// schema violation.
func ValidateDocument(doc interface{}) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}
	var normalized interface{}
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}

	if err := schema.Validate(normalized); err != nil {
		errs := &ValidationErrors{}
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			collectSchemaErrors(verr, errs)
		} else {
			errs.Add("", err.Error())
		}
		return errs
	}
	return nil
}

// collectSchemaErrors flattens the leaf causes of a schema validation error.
func collectSchemaErrors(err *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(err.Causes) == 0 {
		field := err.InstanceLocation
		if field == "" {
			field = "/"
		}
		errs.Add(field, err.Message)
		return
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(cause, errs)
	}
}
