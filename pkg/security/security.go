package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdziat/simple-lease-jobs/pkg/core"
)

// Limits
const (
	// MaxHandlerKeyLength is the maximum length for handler keys
	MaxHandlerKeyLength = 255

	// MaxQueueNameLength is the maximum length for queue names
	MaxQueueNameLength = 255

	// MaxJobArgsSize is the maximum size in bytes for encoded args plus kwargs (1MB)
	MaxJobArgsSize = 1 << 20

	// MaxConcurrency is the hard limit for worker slots
	MaxConcurrency = 1000

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// MaxReapBatch caps how many expired leases one reaper pass requeues
	MaxReapBatch = 1000
)

// validName matches alphanumeric, hyphens, underscores, and dots, starting with a letter.
// Colons are excluded since they separate Redis key segments.
var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// ValidateHandlerKey validates a handler registry key
func ValidateHandlerKey(key string) error {
	if key == "" {
		return core.ErrInvalidHandlerKey
	}
	if len(key) > MaxHandlerKeyLength {
		return core.ErrHandlerKeyTooLong
	}
	if !validName.MatchString(key) {
		return core.ErrInvalidHandlerKey
	}
	return nil
}

// ValidateQueueName validates a queue name
func ValidateQueueName(name string) error {
	if name == "" {
		return core.ErrInvalidQueueName
	}
	if len(name) > MaxQueueNameLength {
		return core.ErrQueueNameTooLong
	}
	if !validName.MatchString(name) {
		return core.ErrInvalidQueueName
	}
	return nil
}

// ValidateQueueNames validates a non-empty list of queue names.
func ValidateQueueNames(names []string) error {
	if len(names) == 0 {
		return core.ErrNoQueues
	}
	for _, name := range names {
		if err := ValidateQueueName(name); err != nil {
			return err
		}
	}
	return nil
}

// ValidateArgsSize rejects payloads above MaxJobArgsSize.
func ValidateArgsSize(args, kwargs []byte) error {
	if len(args)+len(kwargs) > MaxJobArgsSize {
		return core.ErrJobArgsTooLarge
	}
	return nil
}

// SanitizeErrorMessage strips control characters and truncates msg for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	if !utf8.ValidString(msg) {
		msg = strings.ToValidUTF8(msg, "�")
	}

	var sanitized strings.Builder
	sanitized.Grow(len(msg))
	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()
	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}
	return result
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// ClampReapBatch ensures a reaper batch size is within limits
func ClampReapBatch(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxReapBatch {
		return MaxReapBatch
	}
	return n
}
