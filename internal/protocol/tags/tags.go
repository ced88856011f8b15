package tags

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Record separators inside a frame payload.
const (
	US byte = 0x1F
	RS byte = 0x1E
)

// Well-known keys.
const (
	KeyClass          = "Class"
	KeyRequest        = "Request"
	KeyType           = "Type"
	KeySequenceNumber = "SequenceNumber"
	KeyStatusMessage  = "StatusMessage"
	KeyStatusCode     = "StatusCode"
)

var (
	ErrEmptyKey     = errors.New("tags: empty key")
	ErrSeparator    = errors.New("tags: separator byte in key or value")
	ErrMalformed    = errors.New("tags: malformed record")
	ErrDuplicateKey = errors.New("tags: duplicate key")
)

// Class discriminates inbound payloads.
type Class string

const (
	ClassUnknown  Class = ""
	ClassRequest  Class = "Request"
	ClassResponse Class = "Response"
	ClassStatus   Class = "StatusUpdate"
)

var leading = []string{KeyClass, KeyRequest, KeyType, KeySequenceNumber}

// Marshal renders bag as RS-separated "key US value" records. The discriminator
// keys lead; the remaining keys follow in lexical order.
func Marshal(bag map[string]string) ([]byte, error) {
	keys := make([]string, 0, len(bag))
	for k := range bag {
		if isLeading(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]string, 0, len(bag))
	for _, k := range leading {
		if _, ok := bag[k]; ok {
			ordered = append(ordered, k)
		}
	}
	ordered = append(ordered, keys...)

	var buf bytes.Buffer
	for i, k := range ordered {
		v := bag[k]
		if k == "" {
			return nil, ErrEmptyKey
		}
		if hasSeparator(k) || hasSeparator(v) {
			return nil, fmt.Errorf("%w: key=%q", ErrSeparator, k)
		}
		if i > 0 {
			buf.WriteByte(RS)
		}
		buf.WriteString(k)
		buf.WriteByte(US)
		buf.WriteString(v)
	}
	return buf.Bytes(), nil
}

// Unmarshal parses a payload produced by Marshal.
func Unmarshal(payload []byte) (map[string]string, error) {
	bag := make(map[string]string)
	if len(payload) == 0 {
		return bag, nil
	}
	for _, rec := range bytes.Split(payload, []byte{RS}) {
		k, v, ok := bytes.Cut(rec, []byte{US})
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMalformed, rec)
		}
		if len(k) == 0 {
			return nil, ErrEmptyKey
		}
		if bytes.IndexByte(v, US) >= 0 {
			return nil, fmt.Errorf("%w: %q", ErrMalformed, rec)
		}
		key := string(k)
		if _, dup := bag[key]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, key)
		}
		bag[key] = string(v)
	}
	return bag, nil
}

// Classify reports the payload class. An explicit Class tag wins; otherwise the
// shape decides: status tags mean a status update, a request type means a
// request and a bare SequenceNumber means a response.
func Classify(bag map[string]string) Class {
	switch Class(strings.TrimSpace(bag[KeyClass])) {
	case ClassRequest:
		return ClassRequest
	case ClassResponse:
		return ClassResponse
	case ClassStatus:
		return ClassStatus
	}
	if _, ok := bag[KeyStatusMessage]; ok {
		return ClassStatus
	}
	if _, ok := bag[KeyStatusCode]; ok {
		return ClassStatus
	}
	if _, ok := bag[KeyRequest]; ok {
		return ClassRequest
	}
	if _, ok := bag[KeySequenceNumber]; ok {
		return ClassResponse
	}
	return ClassUnknown
}

func isLeading(k string) bool {
	for _, l := range leading {
		if k == l {
			return true
		}
	}
	return false
}

func hasSeparator(s string) bool {
	return strings.IndexByte(s, US) >= 0 || strings.IndexByte(s, RS) >= 0
}
