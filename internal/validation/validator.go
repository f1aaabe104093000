// validator.go wires go-playground/validator with the custom tags used by the
// request and AI response types and reports the first violated constraint.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

const (
	maxURLLength    = 2048
	minDomainLength = 3
	maxDomainLength = 253
)

var domainPattern = regexp.MustCompile(`(?i)^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)

// ErrMalformedJSON is returned by Validate when data is not a JSON document of
// the expected shape.
var ErrMalformedJSON = errors.New("malformed JSON")

// FieldError describes the first constraint a value violated.
type FieldError struct {
	// Field is the JSON path of the offending field, e.g. "attendee.email".
	Field      string
	Constraint string
	Message    string
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

var (
	engineOnce sync.Once
	engine     *validator.Validate
)

// Engine returns the shared validator with custom tags registered.
func Engine() *validator.Validate {
	engineOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
		// Registration only fails for an empty tag name or nil func.
		_ = v.RegisterValidation("https_url", validateHTTPSURL)
		_ = v.RegisterValidation("domain", validateDomain)
		engine = v
	})
	return engine
}

func validateHTTPSURL(fl validator.FieldLevel) bool {
	return IsHTTPSURL(fl.Field().String())
}

func validateDomain(fl validator.FieldLevel) bool {
	return IsDomain(fl.Field().String())
}

// IsHTTPSURL reports whether s is an absolute https URL of at most 2048 bytes.
func IsHTTPSURL(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) > maxURLLength {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Scheme == "https" && u.Host != ""
}

// IsDomain reports whether s is a syntactically valid DNS name of 3 to 253
// characters. Matching is case-insensitive.
func IsDomain(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < minDomainLength || len(s) > maxDomainLength {
		return false
	}
	return domainPattern.MatchString(s)
}

// ValidateStruct runs the engine over v and converts the first violation
// into a *FieldError.
func ValidateStruct(v any) error {
	err := Engine().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return toFieldError(verrs[0])
	}
	return err
}

// Validate decodes data into T and validates it. Unknown JSON fields are
// ignored; type mismatches and constraint violations are errors. data must hold
// exactly one JSON value.
func Validate[T any](data []byte) (T, error) {
	var out T
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&out); err != nil {
		var zero T
		return zero, decodeError(err)
	}
	if err := expectEOF(dec); err != nil {
		var zero T
		return zero, err
	}
	if err := ValidateStruct(&out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func expectEOF(dec *json.Decoder) error {
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("%w: unexpected data after top-level value", ErrMalformedJSON)
	}
	return nil
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &FieldError{
			Field:      typeErr.Field,
			Constraint: "type",
			Message:    fmt.Sprintf("must be of type %s", jsonTypeName(typeErr.Type)),
		}
	}
	return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
}

func jsonTypeName(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	}
	return t.String()
}

func toFieldError(fe validator.FieldError) *FieldError {
	// Namespace is "<Type>.<path>"; drop the root type name.
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	return &FieldError{
		Field:      field,
		Constraint: fe.Tag(),
		Message:    messageFor(fe),
	}
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		if fe.Kind() == reflect.Slice {
			return "must contain at most " + fe.Param() + " items"
		}
		return "must be at most " + fe.Param() + " characters"
	case "min":
		if fe.Kind() == reflect.Slice {
			return "must contain at least " + fe.Param() + " items"
		}
		return "must be at least " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "https_url":
		return "must be an https URL"
	case "domain":
		return "must be a valid domain"
	}
	return "failed " + fe.Tag() + " validation"
}
