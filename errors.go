package eav

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeExecution   ErrorType = "execution"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeConflict    ErrorType = "conflict"
	ErrorTypeInternal    ErrorType = "internal"
	ErrorTypeTransaction ErrorType = "transaction"
	ErrorTypeQuery       ErrorType = "query"
)

// EAVError is the error type returned by the attribute layer.
type EAVError struct {
	Type    ErrorType         `json:"type"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Entity  *EntityIdentifier `json:"entity,omitempty"`
	Field   string            `json:"field,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
	Cause   error             `json:"-"`
}

// EntityIdentifier identifies an entity for error reporting.
type EntityIdentifier struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
}

func (e *EAVError) Error() string {
	if e.Entity != nil {
		return fmt.Sprintf("[%s:%s] entity %s/%s: %s",
			e.Type, e.Code, e.Entity.EntityType, e.Entity.EntityID, e.Message)
	}
	if e.Field != "" {
		return fmt.Sprintf("[%s:%s] field '%s': %s", e.Type, e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

func (e *EAVError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a single detail
func (e *EAVError) WithDetail(key string, value any) *EAVError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause adds a cause
func (e *EAVError) WithCause(cause error) *EAVError {
	e.Cause = cause
	return e
}

// WithEntity adds entity context
func (e *EAVError) WithEntity(entity EntityIdentifier) *EAVError {
	e.Entity = &entity
	return e
}

// WithField adds field context
func (e *EAVError) WithField(field string) *EAVError {
	e.Field = field
	return e
}

// Error codes
const (
	ErrCodeEntityNotFound      = "ENTITY_NOT_FOUND"
	ErrCodeEntityTypeNotFound  = "ENTITY_TYPE_NOT_FOUND"
	ErrCodeEntityTypeExists    = "ENTITY_TYPE_EXISTS"
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
	ErrCodeRequiredMissing     = "REQUIRED_ATTRIBUTE_MISSING"
	ErrCodeUnknownAttribute    = "UNKNOWN_ATTRIBUTE"
	ErrCodeInvalidLookup       = "INVALID_LOOKUP"
	ErrCodeConversionFailed    = "CONVERSION_FAILED"
	ErrCodeChoiceNotAllowed    = "CHOICE_NOT_ALLOWED"
	ErrCodeChoiceNotFound      = "CHOICE_NOT_FOUND"
	ErrCodeChoiceExists        = "CHOICE_EXISTS"
	ErrCodeSchemaNotFound      = "SCHEMA_NOT_FOUND"
	ErrCodeSchemaExists        = "SCHEMA_EXISTS"
	ErrCodeSchemaInvalid       = "SCHEMA_INVALID"
	ErrCodeReservedName        = "RESERVED_NAME"
	ErrCodeManagedReadOnly     = "MANAGED_SCHEMA_READ_ONLY"
	ErrCodeTransactionFailed   = "TRANSACTION_FAILED"
	ErrCodeQueryBuildFailed    = "QUERY_BUILD_FAILED"
	ErrCodeQueryExecution      = "QUERY_EXECUTION_ERROR"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeInvalidConfig       = "INVALID_CONFIG"
	ErrCodeJSONSchemaViolation = "JSON_SCHEMA_VIOLATION"
)

// NewEAVError creates a new EAVError
func NewEAVError(errorType ErrorType, code, message string) *EAVError {
	return &EAVError{
		Type:    errorType,
		Code:    code,
		Message: message,
		Details: make(map[string]any),
	}
}

// NewEntityNotFoundError creates an entity not found error
func NewEntityNotFoundError(entityType, id string) *EAVError {
	return NewEAVError(ErrorTypeNotFound, ErrCodeEntityNotFound, "entity not found").
		WithEntity(EntityIdentifier{EntityType: entityType, EntityID: id})
}

// NewEntityTypeNotFoundError reports an unregistered entity type.
func NewEntityTypeNotFoundError(name string) *EAVError {
	return NewEAVError(ErrorTypeNotFound, ErrCodeEntityTypeNotFound,
		fmt.Sprintf("entity type %q is not registered", name))
}

// NewValidationError creates a validation error
func NewValidationError(field, message string) *EAVError {
	return NewEAVError(ErrorTypeValidation, ErrCodeValidationFailed, message).WithField(field)
}

// NewUnknownAttributeError reports names that are neither static fields nor schemata.
func NewUnknownAttributeError(action, entityType string, names, fields, schemata []string) *EAVError {
	names = sortedCopy(names)
	msg := fmt.Sprintf(`cannot %s %s: unknown attribute(s) "%s". Available fields: (%s). Available schemata: (%s).`,
		action, entityType, strings.Join(names, `", "`),
		strings.Join(sortedCopy(fields), ", "), strings.Join(sortedCopy(schemata), ", "))
	return NewEAVError(ErrorTypeValidation, ErrCodeUnknownAttribute, msg).
		WithDetail("names", names)
}

// NewInvalidLookupError reports a malformed or unsupported lookup.
func NewInvalidLookupError(lookup, message string) *EAVError {
	return NewEAVError(ErrorTypeQuery, ErrCodeInvalidLookup,
		fmt.Sprintf("%s is not a valid lookup: %s", lookup, message)).WithDetail("lookup", lookup)
}

// NewConversionError reports a value that cannot be coerced to a datatype.
func NewConversionError(name string, dt DataType, value any, cause error) *EAVError {
	return NewEAVError(ErrorTypeValidation, ErrCodeConversionFailed,
		fmt.Sprintf("cannot use %#v as %s value", value, dt)).WithField(name).WithCause(cause)
}

// NewChoiceNotAllowedError reports a many value outside the schema's choices.
func NewChoiceNotAllowedError(entityType, name string, allowed []string, got any) *EAVError {
	return NewEAVError(ErrorTypeValidation, ErrCodeChoiceNotAllowed,
		fmt.Sprintf("cannot save %s.%s: expected subset of [%s], got %v",
			entityType, name, strings.Join(allowed, ", "), got)).
		WithField(name).
		WithDetail("allowed", allowed)
}

// NewChoiceNotFoundError reports an unknown choice name.
func NewChoiceNotFoundError(schemaName, choiceName string) *EAVError {
	return NewEAVError(ErrorTypeNotFound, ErrCodeChoiceNotFound,
		fmt.Sprintf("schema %q has no choice %q", schemaName, choiceName)).WithField(schemaName)
}

// NewChoiceExistsError reports a duplicate choice name within a schema.
func NewChoiceExistsError(schemaName, choiceName string) *EAVError {
	return NewEAVError(ErrorTypeConflict, ErrCodeChoiceExists,
		fmt.Sprintf("schema %q already has choice %q", schemaName, choiceName)).WithField(schemaName)
}

// NewSchemaNotFoundError reports an unknown schema name.
func NewSchemaNotFoundError(name string) *EAVError {
	return NewEAVError(ErrorTypeNotFound, ErrCodeSchemaNotFound,
		fmt.Sprintf("schema %q not found", name)).WithField(name)
}

// NewSchemaExistsError reports a schema name collision.
func NewSchemaExistsError(name string) *EAVError {
	return NewEAVError(ErrorTypeConflict, ErrCodeSchemaExists,
		fmt.Sprintf("schema %q already exists", name)).WithField(name)
}

// NewReservedNameError reports a schema name clashing with static fields.
func NewReservedNameError(name string, reserved []string) *EAVError {
	return NewEAVError(ErrorTypeValidation, ErrCodeReservedName,
		fmt.Sprintf(`attribute name must not clash with reserved names ("%s")`,
			strings.Join(sortedCopy(reserved), `", "`))).WithField(name)
}

// NewManagedReadOnlyError reports an attempt to write a managed schema directly.
func NewManagedReadOnlyError(name, parent string) *EAVError {
	return NewEAVError(ErrorTypeValidation, ErrCodeManagedReadOnly,
		fmt.Sprintf("managed schema %q is read-only; set %q instead", name, parent)).WithField(name)
}

// NewRequiredMissingError reports required schemata without a value.
func NewRequiredMissingError(names []string) *EAVError {
	names = sortedCopy(names)
	return NewEAVError(ErrorTypeValidation, ErrCodeRequiredMissing,
		fmt.Sprintf("required attribute(s) missing: %s", strings.Join(names, ", "))).
		WithDetail("names", names)
}

// NewTransactionError creates a transaction error
func NewTransactionError(message string, cause error) *EAVError {
	return NewEAVError(ErrorTypeTransaction, ErrCodeTransactionFailed, message).WithCause(cause)
}

// NewQueryExecutionError creates a query execution error
func NewQueryExecutionError(message string, cause error) *EAVError {
	return NewEAVError(ErrorTypeExecution, ErrCodeQueryExecution, message).WithCause(cause)
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *EAVError {
	return NewEAVError(ErrorTypeInternal, ErrCodeInternalError, message).WithCause(cause)
}

// IsErrorCode reports whether err wraps an EAVError with the given code.
func IsErrorCode(err error, code string) bool {
	var eavErr *EAVError
	if errors.As(err, &eavErr) {
		return eavErr.Code == code
	}
	return false
}

// IsNotFound reports whether err wraps a not-found EAVError.
func IsNotFound(err error) bool {
	var eavErr *EAVError
	if errors.As(err, &eavErr) {
		return eavErr.Type == ErrorTypeNotFound
	}
	return false
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
