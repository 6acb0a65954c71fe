package contact

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed contact.schema.json
var schemaJSON []byte

const schemaURL = "contact.schema.json"

// ValidationError lists the fields that failed portal validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return "invalid contact: " + strings.Join(parts, "; ")
}

// IsValidationError reports whether err carries field validation failures.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func submissionSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			compileErr = fmt.Errorf("failed to parse contact schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			compileErr = fmt.Errorf("failed to add contact schema: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile(schemaURL)
	})
	return compiledSchema, compileErr
}

// Validate checks a submission against the portal schema.
// Returns a *ValidationError describing every failing field.
func (c *Contact) Validate() error {
	sch, err := submissionSchema()
	if err != nil {
		return err
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal contact: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to decode contact: %w", err)
	}

	err = sch.Validate(inst)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("failed to validate contact: %w", err)
	}

	fields := map[string]string{}
	collectFieldErrors(verr, c, fields)
	if len(fields) == 0 {
		fields["contact"] = verr.Error()
	}
	return &ValidationError{Fields: fields}
}

// collectFieldErrors walks the leaves of the schema error tree.
func collectFieldErrors(verr *jsonschema.ValidationError, c *Contact, fields map[string]string) {
	if len(verr.Causes) > 0 {
		for _, cause := range verr.Causes {
			collectFieldErrors(cause, c, fields)
		}
		return
	}
	if len(verr.InstanceLocation) == 0 {
		return
	}
	field := verr.InstanceLocation[0]
	if _, seen := fields[field]; seen {
		return
	}
	fields[field] = fieldMessage(field, c)
}

func fieldMessage(field string, c *Contact) string {
	switch field {
	case "first_name":
		return "First name is required"
	case "last_name":
		return "Last name is required"
	case "street_address":
		return "Street address is required"
	case "city":
		return "City is required"
	case "state":
		return "Province is required"
	case "postal_code":
		if strings.TrimSpace(c.PostalCode) == "" {
			return "Postal code is required"
		}
		return "Invalid postal code format (e.g. A1A 1A1)"
	case "email":
		return "Invalid email address"
	case "status":
		return "Status must be active or inactive"
	default:
		return "invalid value"
	}
}
