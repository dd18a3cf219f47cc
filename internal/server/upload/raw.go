package upload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// rawOverhead is the extra body allowance for part headers, boundaries, and
// non-file fields when capping the raw read. The file-part ceiling itself is
// still checked exactly after extraction.
const rawOverhead = 1 << 20

// RawDecoder splits the request body on the boundary marker by hand. It
// exists for deployments where the streaming decoder cannot be used. The
// whole body is buffered before parsing, but the read is capped incrementally
// while bytes come off the wire, so an oversized upload still aborts early.
type RawDecoder struct {
	maxBytes int64
}

func (d *RawDecoder) Decode(r *http.Request) (*File, error) {
	boundary, err := parseBoundary(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	body, err := readCapped(r.Body, d.maxBytes+rawOverhead)
	if err != nil {
		return nil, err
	}

	delimiter := []byte("--" + boundary)
	for _, segment := range bytes.Split(body, delimiter) {
		file, ok := d.extractFilePart(segment)
		if !ok {
			continue
		}
		if file.Size > d.maxBytes {
			return nil, ErrTooLarge
		}
		return file, nil
	}

	return nil, ErrNoFile
}

// extractFilePart parses one boundary-delimited segment and returns the file
// if the segment's Content-Disposition names the "file" field.
func (d *RawDecoder) extractFilePart(segment []byte) (*File, bool) {
	segment = bytes.TrimPrefix(segment, []byte("\r\n"))

	headerEnd := bytes.Index(segment, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		return nil, false
	}
	head := string(segment[:headerEnd])
	payload := segment[headerEnd+4:]

	var filename, contentType string
	found := false
	for _, line := range strings.Split(head, "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "content-disposition":
			_, params, err := mime.ParseMediaType(value)
			if err != nil || params["name"] != fieldName {
				return nil, false
			}
			filename = params["filename"]
			found = true
		case "content-type":
			contentType = value
		}
	}
	if !found {
		return nil, false
	}

	// The part body ends with the CRLF that precedes the next boundary.
	payload = bytes.TrimSuffix(payload, []byte("\r\n"))

	return &File{
		Filename: SanitizeFilename(filename),
		MimeType: contentType,
		Data:     payload,
		Size:     int64(len(payload)),
	}, true
}

// readCapped accumulates the reader's bytes, failing with ErrTooLarge the
// moment the running total passes max. It never buffers past the cap.
func readCapped(r io.Reader, max int64) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	var total int64
	for {
		n, err := r.Read(chunk)
		total += int64(n)
		if total > max {
			return nil, ErrTooLarge
		}
		buf.Write(chunk[:n])
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
	}
}
