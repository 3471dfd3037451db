// Package chat implements the text and image conversation with the sales
// agent. A [Session] keeps the visible message list and the model history; a
// [Backend] turns that history into the next model reply.
package chat

import (
	"context"
	"encoding/base64"
	"fmt"
)

// Role identifies the author of a [Turn] in the model history.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one entry of the model history.
type Turn struct {
	Role Role

	// Text is the textual part of the turn.
	Text string

	// Image is an optional inline image sent before the text.
	Image *Attachment
}

// Attachment is an image the user sends along with a message.
type Attachment struct {
	// Name is the base name of the source file, for display.
	Name string

	// MIMEType is the detected content type, e.g. "image/png".
	MIMEType string

	// Data holds the raw file contents.
	Data []byte
}

// Base64 returns the standard base64 encoding of the attachment data.
func (a *Attachment) Base64() string {
	return base64.StdEncoding.EncodeToString(a.Data)
}

// DataURL returns the attachment as a "data:" URL.
func (a *Attachment) DataURL() string {
	return "data:" + a.MIMEType + ";base64," + a.Base64()
}

// Backend generates the next model reply for a conversation.
//
// history ends with the user turn to answer. system is the system
// instruction; it may be empty.
type Backend interface {
	Generate(ctx context.Context, history []Turn, system string) (string, error)
}

// RemoteRequestError reports a failed request to a chat backend.
type RemoteRequestError struct {
	Backend string
	Err     error
}

func (e *RemoteRequestError) Error() string {
	return fmt.Sprintf("chat: %s request: %v", e.Backend, e.Err)
}

func (e *RemoteRequestError) Unwrap() error { return e.Err }
