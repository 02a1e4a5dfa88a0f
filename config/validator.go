package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// MinJWTSecretLen is the shortest signing secret serve accepts.
const MinJWTSecretLen = 16

func ValidLogLevels() []string {
	return []string{"trace", "debug", "info", "warn", "error"}
}

func ValidLogFormats() []string {
	return []string{"console", "json"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	errors = append(errors, c.validateDatabase()...)
	errors = append(errors, c.validateHTTP()...)
	errors = append(errors, c.validateLog()...)
	errors = append(errors, c.validateOutbox()...)
	return errors
}

// ValidateServe adds the checks only the HTTP server needs.
func (c *Config) ValidateServe() []ValidationError {
	errors := c.Validate()
	if len(c.Auth.JWTSecret) < MinJWTSecretLen {
		errors = append(errors, ValidationError{
			Field:   "auth.jwt_secret",
			Value:   fmt.Sprintf("<%d chars>", len(c.Auth.JWTSecret)),
			Message: fmt.Sprintf("must be at least %d characters", MinJWTSecretLen),
		})
	}
	if c.Auth.TokenTTL <= 0 {
		errors = append(errors, ValidationError{
			Field:   "auth.token_ttl",
			Value:   c.Auth.TokenTTL,
			Message: "must be positive",
		})
	}
	return errors
}

func (c *Config) validateDatabase() []ValidationError {
	var errors []ValidationError
	if strings.TrimSpace(c.Database.URL) == "" {
		errors = append(errors, ValidationError{
			Field:   "database.url",
			Value:   c.Database.URL,
			Message: "is required",
		})
	}
	if c.Database.MaxConns < 0 {
		errors = append(errors, ValidationError{
			Field:   "database.max_conns",
			Value:   c.Database.MaxConns,
			Message: "must be non-negative",
		})
	}
	return errors
}

func (c *Config) validateHTTP() []ValidationError {
	var errors []ValidationError
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errors = append(errors, ValidationError{
			Field:   "http.addr",
			Value:   c.HTTP.Addr,
			Message: "is required",
		})
	}
	if c.HTTP.ShutdownTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "http.shutdown_timeout",
			Value:   c.HTTP.ShutdownTimeout,
			Message: "must be non-negative",
		})
	}
	return errors
}

func (c *Config) validateLog() []ValidationError {
	var errors []ValidationError
	if c.Log.Level != "" && !slices.Contains(ValidLogLevels(), c.Log.Level) {
		errors = append(errors, ValidationError{
			Field:   "log.level",
			Value:   c.Log.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Log.Format != "" && !slices.Contains(ValidLogFormats(), c.Log.Format) {
		errors = append(errors, ValidationError{
			Field:   "log.format",
			Value:   c.Log.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogFormats(), ", ")),
		})
	}
	return errors
}

func (c *Config) validateOutbox() []ValidationError {
	if !c.Outbox.Enabled {
		return nil
	}
	var errors []ValidationError
	if c.Outbox.Interval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "outbox.interval",
			Value:   c.Outbox.Interval,
			Message: "must be positive",
		})
	}
	if c.Outbox.BatchSize < 1 || c.Outbox.BatchSize > 1000 {
		errors = append(errors, ValidationError{
			Field:   "outbox.batch_size",
			Value:   c.Outbox.BatchSize,
			Message: "must be between 1 and 1000",
		})
	}
	if c.Outbox.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "outbox.max_attempts",
			Value:   c.Outbox.MaxAttempts,
			Message: "must be at least 1",
		})
	}
	return errors
}
