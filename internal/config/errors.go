package config

import (
	"errors"
	"fmt"
)

// Errors returned by configuration operations.
var (
	// ErrUnknownSetting indicates the setting path doesn't exist.
	ErrUnknownSetting = errors.New("unknown setting")

	// ErrTypeMismatch indicates the value type doesn't match the setting's type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrInvalidValue indicates the value has the right type but is not allowed.
	ErrInvalidValue = errors.New("invalid value")
)

// ErrorCode categorizes configuration errors.
type ErrorCode uint8

const (
	// ErrCodeUnknownSetting indicates an unrecognized setting path.
	ErrCodeUnknownSetting ErrorCode = iota
	// ErrCodeTypeMismatch indicates the value type is wrong.
	ErrCodeTypeMismatch
	// ErrCodeOutOfRange indicates a numeric value is out of range.
	ErrCodeOutOfRange
	// ErrCodeInvalidEnum indicates the value is not in the allowed set.
	ErrCodeInvalidEnum
	// ErrCodeRequiredMissing indicates a required setting is empty.
	ErrCodeRequiredMissing
)

// String returns a human-readable name for the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeUnknownSetting:
		return "unknown_setting"
	case ErrCodeTypeMismatch:
		return "type_mismatch"
	case ErrCodeOutOfRange:
		return "out_of_range"
	case ErrCodeInvalidEnum:
		return "invalid_enum"
	case ErrCodeRequiredMissing:
		return "required_missing"
	default:
		return "unknown"
	}
}

// ConfigError describes a setting that could not be applied or failed
// validation.
type ConfigError struct {
	// Path is the dotted setting path, e.g. "exec.timeout".
	Path string
	// Message describes the problem.
	Message string
	// Value is the offending value.
	Value any
	// Code categorizes the error.
	Code ErrorCode
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s (value: %v)", e.Path, e.Message, e.Value)
}

// Unwrap returns the sentinel matching the error's code.
func (e *ConfigError) Unwrap() error {
	switch e.Code {
	case ErrCodeUnknownSetting:
		return ErrUnknownSetting
	case ErrCodeTypeMismatch:
		return ErrTypeMismatch
	default:
		return ErrInvalidValue
	}
}

func typeError(path, expected string, value any) error {
	return &ConfigError{
		Path:    path,
		Message: fmt.Sprintf("expected %s, got %T", expected, value),
		Value:   value,
		Code:    ErrCodeTypeMismatch,
	}
}
