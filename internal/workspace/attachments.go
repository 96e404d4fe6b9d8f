package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const attachmentsDirName = ".codex/attachments"

// ErrEmptyAttachment is returned when an attachment upload has no bytes.
var ErrEmptyAttachment = errors.New("workspace: attachment is empty")

// mimeExtensions maps image MIME types to the extension used when the
// original filename carries none.
var mimeExtensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
	"image/gif":  "gif",
	"image/heic": "heic",
	"image/heif": "heif",
	"image/bmp":  "bmp",
	"image/tiff": "tiff",
}

// SaveAttachment writes pasted or dropped file bytes under the workspace's
// attachment directory and returns the absolute path, which callers embed
// in localImage input items. The stored name is a fresh uuid so uploads
// never collide; the extension is taken from the original name, then the
// MIME type.
func SaveAttachment(workspacePath, name, mimeType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyAttachment
	}

	dir := filepath.Join(workspacePath, filepath.FromSlash(attachmentsDirName))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("workspace: create attachments dir: %w", err)
	}

	ext := attachmentExtension(name, mimeType)
	path := filepath.Join(dir, uuid.NewString()+"."+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("workspace: write attachment: %w", err)
	}
	return path, nil
}

func attachmentExtension(name, mimeType string) string {
	if ext := strings.TrimPrefix(filepath.Ext(name), "."); ext != "" {
		return strings.ToLower(ext)
	}
	if ext, ok := mimeExtensions[strings.ToLower(mimeType)]; ok {
		return ext
	}
	return "img"
}
