// Package idgen generates the short, URL-safe identifiers used for sessions
// and connection handles.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// SessionPrefix starts every session ID, e.g. "cs-V1StGXR8Z5".
	SessionPrefix = "cs-"
	// HandlePrefix starts every connection handle ID.
	HandlePrefix = "h-"

	// alphabet has no "." or "*" so IDs are safe as NATS subject tokens.
	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// randomLength is the number of random characters after the prefix.
	randomLength = 10
)

// SessionID returns a new session ID.
func SessionID() (string, error) { return generate(SessionPrefix) }

// HandleID returns a new connection handle ID.
func HandleID() (string, error) { return generate(HandlePrefix) }

func generate(prefix string) (string, error) {
	id, err := nanoid.Generate(alphabet, randomLength)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
