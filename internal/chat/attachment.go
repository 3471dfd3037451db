package chat

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotImage is returned by [LoadAttachment] for files that are not images.
var ErrNotImage = errors.New("chat: attachment is not an image")

// LoadAttachment reads the image at path. The MIME type is taken from the
// file extension and sniffed from the content when the extension is unknown.
func LoadAttachment(path string) (*Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("chat: load attachment: %w", err)
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	mimeType, _, _ = strings.Cut(mimeType, ";")
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%w: %s (%s)", ErrNotImage, filepath.Base(path), mimeType)
	}
	return &Attachment{
		Name:     filepath.Base(path),
		MIMEType: mimeType,
		Data:     data,
	}, nil
}
