package api

import (
	"strings"

	"github.com/google/uuid"
)

// NewMessageID generates a message identifier with the msg_ prefix used
// on the wire.
func NewMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
