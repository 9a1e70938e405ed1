package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const MaxMessageLength = 1000

// TimestampLayout is the wire format for message timestamps.
const TimestampLayout = time.RFC3339Nano

var (
	ErrMissingText = errors.New("message text is required")
	ErrTextTooLong = errors.New("message text is too long")
)

var validate = validator.New()

// NormalizeText trims the text and enforces the length bound in characters.
func NormalizeText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrMissingText
	}
	if err := validate.Var(text, "max=1000"); err != nil {
		return "", ErrTextTooLong
	}
	return text, nil
}

// ValidateUser checks questionnaire fields.
func ValidateUser(u UserInfo) error {
	return validate.Struct(u)
}

// ErrorCode maps a validation error onto the code sent to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrMissingText):
		return CodeMissingText
	case errors.Is(err, ErrTextTooLong):
		return CodeTextTooLong
	default:
		return CodeSendFailed
	}
}
