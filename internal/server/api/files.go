package api

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

var byteRangePattern = regexp.MustCompile(`^bytes=(\d*)-(\d*)$`)

// HandleGetFile handles GET /api/files/:id.
// Blobs are immutable, so the sha256 digest doubles as a strong ETag and the
// response is cached aggressively. Range requests are honored only for video
// types; video scrubbing is the one consumer that needs partial fetches.
func (h *Handler) HandleGetFile(c echo.Context) error {
	f, err := h.svc.GetFile(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}

	res := c.Response()
	etag := f.SHA256

	if c.Request().Header.Get("If-None-Match") == etag {
		res.Header().Set("ETag", etag)
		return c.NoContent(http.StatusNotModified)
	}

	res.Header().Set("ETag", etag)
	res.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	res.Header().Set("Accept-Ranges", "bytes")

	rangeHeader := c.Request().Header.Get("Range")
	if strings.HasPrefix(f.MimeType, "video/") && rangeHeader != "" {
		start, end, ok := parseByteRange(rangeHeader, f.Size)
		if !ok {
			res.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", f.Size))
			return c.NoContent(http.StatusRequestedRangeNotSatisfiable)
		}
		slice := f.Bytes[start : end+1]
		res.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, f.Size))
		res.Header().Set("Content-Length", strconv.FormatInt(int64(len(slice)), 10))
		return c.Blob(http.StatusPartialContent, f.MimeType, slice)
	}

	res.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	return c.Blob(http.StatusOK, f.MimeType, f.Bytes)
}

// parseByteRange parses "bytes=<start>-<end>" where either bound may be
// omitted. Start defaults to 0, end to size-1. Unsatisfiable or malformed
// ranges report !ok.
func parseByteRange(header string, size int64) (start, end int64, ok bool) {
	m := byteRangePattern.FindStringSubmatch(header)
	if m == nil || (m[1] == "" && m[2] == "") {
		return 0, 0, false
	}

	start = 0
	end = size - 1
	var err error
	if m[1] != "" {
		if start, err = strconv.ParseInt(m[1], 10, 64); err != nil {
			return 0, 0, false
		}
	}
	if m[2] != "" {
		if end, err = strconv.ParseInt(m[2], 10, 64); err != nil {
			return 0, 0, false
		}
	}

	if start > end || end >= size {
		return 0, 0, false
	}
	return start, end, true
}
