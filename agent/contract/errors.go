package contract

import "errors"

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrDuplicateAgent  = errors.New("duplicate agent id")
	ErrClassification  = errors.New("classification failed")
	ErrStorage         = errors.New("conversation storage failed")
	ErrInvalidKey      = errors.New("conversation key is incomplete")
)
