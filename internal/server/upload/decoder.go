// Package upload decodes multipart/form-data request bodies into a single
// extracted file. Two decoder strategies exist: a streaming decoder built on
// the standard multipart reader, and a raw decoder that splits the body on
// the boundary marker itself. The strategy is chosen once at startup.
package upload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
)

// Sentinel errors for the decoder layer.
var (
	ErrInvalidContentType = errors.New("request is not multipart/form-data")
	ErrNoFile             = errors.New("no file provided (use form field 'file')")
	ErrTooLarge           = errors.New("file exceeds maximum allowed size")
)

// fieldName is the only multipart field the decoders extract.
const fieldName = "file"

// File is one extracted upload.
type File struct {
	Filename string
	MimeType string
	Data     []byte
	Size     int64
}

// Decoder extracts the "file" part out of a multipart request body.
// Implementations are stateless per invocation.
type Decoder interface {
	Decode(r *http.Request) (*File, error)
}

// NewDecoder selects a decoder strategy by name ("stream" or "raw").
func NewDecoder(kind string, maxBytes int64) (Decoder, error) {
	switch kind {
	case "stream":
		return &StreamDecoder{maxBytes: maxBytes}, nil
	case "raw":
		return &RawDecoder{maxBytes: maxBytes}, nil
	default:
		return nil, fmt.Errorf("unknown multipart decoder %q", kind)
	}
}

// StreamDecoder walks the body part by part with the standard multipart
// reader. Parts other than "file" are drained and discarded without
// buffering; the file part is read under a running byte ceiling so an
// oversized upload aborts mid-stream.
type StreamDecoder struct {
	maxBytes int64
}

func (d *StreamDecoder) Decode(r *http.Request) (*File, error) {
	boundary, err := parseBoundary(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	mr := multipart.NewReader(r.Body, boundary)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, ErrNoFile
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read multipart body: %w", err)
		}

		if part.FormName() != fieldName {
			// Drain so the reader can advance, but keep nothing.
			_, err := io.Copy(io.Discard, part)
			part.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read multipart body: %w", err)
			}
			continue
		}

		var buf bytes.Buffer
		n, err := io.Copy(&buf, io.LimitReader(part, d.maxBytes+1))
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read file part: %w", err)
		}
		if n > d.maxBytes {
			return nil, ErrTooLarge
		}

		return &File{
			Filename: SanitizeFilename(part.FileName()),
			MimeType: part.Header.Get("Content-Type"),
			Data:     buf.Bytes(),
			Size:     int64(buf.Len()),
		}, nil
	}
}

// parseBoundary validates the Content-Type header and extracts the boundary
// parameter.
func parseBoundary(contentType string) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", ErrInvalidContentType
	}
	if !strings.HasPrefix(mediaType, "multipart/form-data") {
		return "", ErrInvalidContentType
	}
	boundary := params["boundary"]
	if boundary == "" {
		return "", ErrInvalidContentType
	}
	return boundary, nil
}

// SanitizeFilename strips CR/LF and other control characters, trims
// whitespace, and falls back to "upload" when nothing is left.
func SanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" {
		return "upload"
	}
	return name
}
