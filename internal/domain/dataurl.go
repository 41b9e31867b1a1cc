package domain

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/url"
	"strings"
)

// IsDataURL reports whether ref carries its payload inline as a data: URL.
func IsDataURL(ref string) bool {
	return len(ref) >= 5 && strings.EqualFold(ref[:5], "data:")
}

// ParseDataURL decodes "data:[<mediatype>][;base64],<data>". The media type
// defaults to text/plain when omitted.
func ParseDataURL(raw string) (payload []byte, mediaType string, err error) {
	if !IsDataURL(raw) {
		return nil, "", fmt.Errorf("%w: not a data url", ErrInvalidRequest)
	}

	meta, data, ok := strings.Cut(raw[5:], ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: data url has no payload separator", ErrInvalidRequest)
	}

	encoded := false
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		encoded = true
		meta = meta[:len(meta)-len(";base64")]
	}

	mediaType = "text/plain"
	if strings.TrimSpace(meta) != "" {
		mt, _, perr := mime.ParseMediaType(meta)
		if perr != nil {
			return nil, "", fmt.Errorf("%w: data url media type %q: %v", ErrInvalidRequest, meta, perr)
		}
		mediaType = mt
	}

	unescaped, err := url.PathUnescape(data)
	if err != nil {
		return nil, "", fmt.Errorf("%w: data url payload: %v", ErrInvalidRequest, err)
	}

	if encoded {
		payload, err = decodeBase64(unescaped)
		if err != nil {
			return nil, "", fmt.Errorf("%w: data url payload: %v", ErrInvalidRequest, err)
		}
	} else {
		payload = []byte(unescaped)
	}

	if len(payload) == 0 {
		return nil, "", fmt.Errorf("%w: data url payload is empty", ErrInvalidRequest)
	}
	return payload, mediaType, nil
}

// decodeBase64 accepts padded and unpadded input with embedded whitespace.
func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
