// Package filetype validates uploaded media before it reaches a provider.
package filetype

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var ErrUnsupported = errors.New("unsupported file type")

// mimeByExt is the allow-list of media the gateway accepts.
var mimeByExt = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".wmv":  "video/x-ms-wmv",
	".html": "text/html",
	".htm":  "text/html",
	".pdf":  "application/pdf",
}

// signature is a magic-byte pattern inside the first 8 bytes of a file.
type signature struct {
	offset int
	magic  []byte
}

// signatures lists the accepted binary signatures per extension. Extensions
// with no entry (html) are text formats with no magic bytes.
var signatures = map[string][]signature{
	".png":  {{0, []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}}},
	".jpg":  {{0, []byte{0xff, 0xd8, 0xff}}},
	".jpeg": {{0, []byte{0xff, 0xd8, 0xff}}},
	".gif":  {{0, []byte("GIF8")}},
	".mp4":  {{4, []byte("ftyp")}},
	".mov":  {{4, []byte("ftyp")}, {4, []byte("moov")}},
	".avi":  {{0, []byte("RIFF")}},
	".mpeg": {{0, []byte{0x00, 0x00, 0x01, 0xba}}, {0, []byte{0x00, 0x00, 0x01, 0xb3}}},
	".mpg":  {{0, []byte{0x00, 0x00, 0x01, 0xba}}, {0, []byte{0x00, 0x00, 0x01, 0xb3}}},
	".wmv":  {{0, []byte{0x30, 0x26, 0xb2, 0x75}}},
	".pdf":  {{0, []byte("%PDF")}},
}

// MIMEForName returns the MIME type for a file name based on its extension,
// or ErrUnsupported if the extension is not on the allow-list.
func MIMEForName(name string) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	mime, ok := mimeByExt[ext]
	if !ok {
		return "", fmt.Errorf("file %q: %w", name, ErrUnsupported)
	}
	return mime, nil
}

// Validate checks that the file name carries an allowed extension and that
// the content's leading bytes match one of the extension's signatures. Only
// the first 8 bytes of data are consulted.
func Validate(name string, data []byte) (string, error) {
	mime, err := MIMEForName(name)
	if err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(name))
	sigs, ok := signatures[ext]
	if !ok {
		return mime, nil
	}

	head := data
	if len(head) > 8 {
		head = head[:8]
	}
	for _, s := range sigs {
		if s.offset+len(s.magic) <= len(head) && bytes.Equal(head[s.offset:s.offset+len(s.magic)], s.magic) {
			return mime, nil
		}
	}
	return "", fmt.Errorf("file %q: content does not match %s extension: %w", name, ext, ErrUnsupported)
}

// IsVideo reports whether a MIME type names a video format.
func IsVideo(mime string) bool {
	return strings.HasPrefix(mime, "video/")
}
