package validation

import (
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"microloan-client/internal/common/errors"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// FormSchema pairs a JSON schema with the user-facing message for each
// field/constraint combination.
type FormSchema struct {
	doc      map[string]interface{}
	order    []string
	messages map[string]map[string]string
}

// NewFormSchema builds an object schema. order lists the fields in form
// order; errors are reported in that order.
func NewFormSchema(properties map[string]interface{}, required, order []string) *FormSchema {
	return &FormSchema{
		doc: map[string]interface{}{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
		order:    order,
		messages: make(map[string]map[string]string),
	}
}

// Message sets the text shown when field fails the constraint of errType
// (a gojsonschema error type such as "required" or "number_lte").
func (s *FormSchema) Message(field, errType, message string) *FormSchema {
	if s.messages[field] == nil {
		s.messages[field] = make(map[string]string)
	}
	s.messages[field][errType] = message
	return s
}

// Validate checks doc against the schema.
func (s *FormSchema) Validate(doc map[string]interface{}) *ValidationResult {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(s.doc),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "(root)",
				Message: err.Error(),
				Code:    "SCHEMA_ERROR",
			}},
		}
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, re := range result.Errors() {
		field := re.Field()
		code := strings.ToUpper(re.Type())
		if re.Type() == "required" {
			if prop, ok := re.Details()["property"].(string); ok {
				field = prop
			}
			code = "REQUIRED_FIELD_MISSING"
		}

		msg := s.messages[field][re.Type()]
		if msg == "" {
			msg = re.Description()
		}

		out.Errors = append(out.Errors, ValidationError{Field: field, Message: msg, Code: code})
	}

	s.sortErrors(out.Errors)
	return out
}

func (s *FormSchema) sortErrors(errs []ValidationError) {
	rank := make(map[string]int, len(s.order))
	for i, f := range s.order {
		rank[f] = i
	}
	sort.SliceStable(errs, func(i, j int) bool {
		ri, iok := rank[errs[i].Field]
		rj, jok := rank[errs[j].Field]
		if !iok {
			ri = len(s.order)
		}
		if !jok {
			rj = len(s.order)
		}
		return ri < rj
	})
}

// Add appends a failure produced outside the schema.
func (vr *ValidationResult) Add(field, code, message string) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Message: message, Code: code})
}

func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = err.Field + ": " + err.Message
	}
	return messages
}

func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

func (vr *ValidationResult) GetErrorsForField(field string) []ValidationError {
	var fieldErrors []ValidationError
	for _, err := range vr.Errors {
		if err.Field == field {
			fieldErrors = append(fieldErrors, err)
		}
	}
	return fieldErrors
}

// Err converts a failed result into a validation StandardError, or nil.
func (vr *ValidationResult) Err() error {
	if vr.Valid {
		return nil
	}
	fields := make([]errors.FieldError, len(vr.Errors))
	for i, e := range vr.Errors {
		fields[i] = errors.FieldError{Field: e.Field, Message: e.Message, Code: e.Code}
	}
	return errors.NewValidationError(fields)
}

// compact drops blank strings so that "required" catches empty inputs.
func compact(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if s, ok := v.(string); ok {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			out[k] = s
			continue
		}
		out[k] = v
	}
	return out
}
