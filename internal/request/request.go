package request

import (
	"strconv"
	"strings"

	"github.com/danmuck/integractl/internal/protocol/tags"
)

// Tag names used by the built-in request types.
const (
	KeyRequest                    = tags.KeyRequest
	KeySequenceNumber             = tags.KeySequenceNumber
	KeyRequesterTransRefNum       = "RequesterTransRefNum"
	KeyAmount                     = "Amount"
	KeyCurrency                   = "Currency"
	KeyEftType                    = "EftType"
	KeyOriginalSeqNumber          = "OriginalSeqNumber"
	KeyOriginalPaymentReferenceID = "OriginalPaymentReferenceId"
	KeyOriginalRequestID          = "OriginalRequestId"
)

// Request is an immutable transaction request: a type name plus its tag bag.
type Request struct {
	typ  string
	tags map[string]string
}

// Of builds a request without validating it. The type is written under the
// Request tag; tags is copied.
func Of(typ string, bag map[string]string) Request {
	cp := make(map[string]string, len(bag)+1)
	for k, v := range bag {
		cp[k] = v
	}
	typ = strings.TrimSpace(typ)
	if typ == "" {
		typ = strings.TrimSpace(cp[KeyRequest])
	}
	if d, ok := factory.Lookup(typ); ok {
		typ = d.Name
	}
	if typ != "" {
		cp[KeyRequest] = typ
	}
	return Request{typ: typ, tags: cp}
}

func (r Request) Type() string {
	return r.typ
}

// Tags returns a copy of the tag bag.
func (r Request) Tags() map[string]string {
	out := make(map[string]string, len(r.tags))
	for k, v := range r.tags {
		out[k] = v
	}
	return out
}

func (r Request) Tag(key string) (string, bool) {
	v, ok := r.tags[key]
	return v, ok
}

// Group returns the descriptor group of the request type, or "" if unknown.
func (r Request) Group() string {
	if d, ok := factory.Lookup(r.typ); ok {
		return d.Group
	}
	return ""
}

// Validate checks the tags against the schema of the request type.
func (r Request) Validate() error {
	return factory.ValidateOptions(r.tags)
}

// WithSequence returns a copy carrying seq under SequenceNumber.
func (r Request) WithSequence(seq uint64) Request {
	out := Request{typ: r.typ, tags: r.Tags()}
	out.tags[KeySequenceNumber] = strconv.FormatUint(seq, 10)
	return out
}

// Payload renders the request as a tagged frame payload.
func (r Request) Payload() ([]byte, error) {
	bag := r.Tags()
	bag[tags.KeyClass] = string(tags.ClassRequest)
	return tags.Marshal(bag)
}

// Response is a terminal reply correlated to one request by SequenceNumber.
type Response struct {
	typ  string
	seq  uint64
	tags map[string]string
}

func NewResponse(typ string, seq uint64, bag map[string]string) Response {
	cp := make(map[string]string, len(bag))
	for k, v := range bag {
		cp[k] = v
	}
	return Response{typ: typ, seq: seq, tags: cp}
}

func (r Response) Type() string {
	return r.typ
}

func (r Response) SequenceNumber() uint64 {
	return r.seq
}

func (r Response) Tags() map[string]string {
	out := make(map[string]string, len(r.tags))
	for k, v := range r.tags {
		out[k] = v
	}
	return out
}

func (r Response) Tag(key string) (string, bool) {
	v, ok := r.tags[key]
	return v, ok
}

// StatusUpdate is an unsolicited terminal notification.
type StatusUpdate struct {
	tags map[string]string
}

func NewStatusUpdate(bag map[string]string) StatusUpdate {
	cp := make(map[string]string, len(bag))
	for k, v := range bag {
		cp[k] = v
	}
	return StatusUpdate{tags: cp}
}

func (s StatusUpdate) Tags() map[string]string {
	out := make(map[string]string, len(s.tags))
	for k, v := range s.tags {
		out[k] = v
	}
	return out
}

func (s StatusUpdate) Tag(key string) (string, bool) {
	v, ok := s.tags[key]
	return v, ok
}

// Message returns the StatusMessage tag.
func (s StatusUpdate) Message() string {
	return s.tags[tags.KeyStatusMessage]
}
