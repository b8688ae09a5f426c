package hoard

import (
	"fmt"
	"path"
	"strings"
)

// sanitizeFilename rewrites a user-supplied download filename into a form
// safe to embed in a Content-Disposition header.
//
// It returns an ASCII-only name plus, when the input contains characters
// outside ASCII, an RFC 5987 percent-encoded UTF-8 form for the filename*
// parameter (empty otherwise).
func sanitizeFilename(name string) (ascii, utf8Form string) {
	if strings.TrimSpace(name) == "" || strings.HasPrefix(name, ".") {
		name = "data" + name
	}

	name = collapseUnsafe(name)
	name = strings.Trim(name, "-.")
	if name == "" {
		return "data", ""
	}

	if isASCII(name) {
		return name, ""
	}

	// Non-ASCII names get an ASCII-safe fallback built from the extension
	// alone, plus the encoded original for user agents that honor
	// filename*.
	ext := path.Ext(name)
	if !isASCII(ext) {
		ext = ""
	}
	if ext == ".gz" {
		ext = ".csv.gz"
	}
	return "data" + ext, encodeRFC5987(name)
}

// unsafeByte reports whether b must not appear verbatim in a filename:
// control characters, DEL, and the header/path separator set.
func unsafeByte(b byte) bool {
	if b < 0x20 || b == 0x7f {
		return true
	}
	switch b {
	case '/', '\\', '?', '%', '*', ':', '|', '"', '<', '>', '-':
		return true
	}
	return false
}

// collapseUnsafe replaces every run of unsafe characters with a single '-'.
func collapseUnsafe(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	inRun := false
	for i := 0; i < len(name); i++ {
		if unsafeByte(name[i]) {
			if !inRun {
				sb.WriteByte('-')
				inRun = true
			}
			continue
		}
		inRun = false
		sb.WriteByte(name[i])
	}
	return sb.String()
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 127 {
			return false
		}
	}
	return true
}

// encodeRFC5987 percent-encodes s for use as an RFC 5987 ext-value.
// Unreserved characters pass through verbatim; every other UTF-8 byte is
// escaped as lowercase %xx.
func encodeRFC5987(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		b := s[i]
		if isRFC5987Unreserved(b) {
			sb.WriteByte(b)
			continue
		}
		fmt.Fprintf(&sb, "%%%02x", b)
	}
	return sb.String()
}

func isRFC5987Unreserved(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	}
	switch b {
	case '!', '#', '$', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

// contentDisposition builds the attachment header value for a sanitized
// filename pair.
func contentDisposition(ascii, utf8Form string) string {
	if utf8Form == "" {
		return fmt.Sprintf("attachment; filename=%q", ascii)
	}
	return fmt.Sprintf("attachment; filename=%q; filename*=UTF-8''%s", ascii, utf8Form)
}
