// ABOUTME: JSON request/response envelopes carried inside tunnel frames.
// ABOUTME: Handles base64 bodies and single-or-multi valued header decoding.

package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire values for the type discriminator.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
)

// ErrMalformed indicates a frame payload that could not be decoded into an
// envelope. The frame is dropped; the connection stays up.
var ErrMalformed = errors.New("malformed envelope")

// Header carries HTTP headers with multi-value semantics preserved.
// On the wire a value may be a bare string or an array of strings; encoding
// always emits the normalized array form.
type Header map[string][]string

// UnmarshalJSON accepts both string and []string values per header name.
func (h *Header) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(Header, len(raw))
	for name, val := range raw {
		var single string
		if err := json.Unmarshal(val, &single); err == nil {
			out[name] = []string{single}
			continue
		}

		var multi []string
		if err := json.Unmarshal(val, &multi); err != nil {
			return fmt.Errorf("header %q: %w", name, err)
		}
		out[name] = multi
	}

	*h = out
	return nil
}

// Envelope is one decoded tunnel message: either a *Request or a *Response.
type Envelope interface {
	envelope()
}

// Request asks the agent to perform one HTTP call on behalf of the broker.
type Request struct {
	ClientID  string `json:"clientId"`
	RequestID string `json:"requestId"`
	Method    string `json:"method"`
	URL       string `json:"url"`
	Headers   Header `json:"headers,omitempty"`
	Body      []byte `json:"body,omitempty"`
}

func (*Request) envelope() {}

// Response carries the outcome of one Request back to the broker.
type Response struct {
	ClientID   string `json:"clientId"`
	RequestID  string `json:"requestId"`
	StatusCode int    `json:"statusCode"`
	Headers    Header `json:"headers,omitempty"`
	Body       []byte `json:"body,omitempty"`
}

func (*Response) envelope() {}

// wire is the superset shape used for encoding and decoding. Bodies are
// []byte, which encoding/json carries as base64 text.
type wire struct {
	Type       string `json:"type"`
	ClientID   string `json:"clientId"`
	RequestID  string `json:"requestId"`
	Method     string `json:"method,omitempty"`
	URL        string `json:"url,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
	Headers    Header `json:"headers"`
	Body       []byte `json:"body,omitempty"`
}

// EncodeRequest serializes a Request for transmission in one frame.
func EncodeRequest(r *Request) ([]byte, error) {
	return json.Marshal(&wire{
		Type:      TypeRequest,
		ClientID:  r.ClientID,
		RequestID: r.RequestID,
		Method:    r.Method,
		URL:       r.URL,
		Headers:   normalized(r.Headers),
		Body:      r.Body,
	})
}

// EncodeResponse serializes a Response for transmission in one frame.
func EncodeResponse(r *Response) ([]byte, error) {
	return json.Marshal(&wire{
		Type:       TypeResponse,
		ClientID:   r.ClientID,
		RequestID:  r.RequestID,
		StatusCode: r.StatusCode,
		Headers:    normalized(r.Headers),
		Body:       r.Body,
	})
}

func normalized(h Header) Header {
	if h == nil {
		return Header{}
	}
	return h
}

// Decode parses one frame payload into a Request or Response. Unknown
// fields are ignored; an unparseable payload, an unknown type, or a
// missing requestId yields ErrMalformed.
func Decode(payload []byte) (Envelope, error) {
	var w wire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if w.RequestID == "" {
		return nil, fmt.Errorf("%w: missing requestId", ErrMalformed)
	}

	switch w.Type {
	case TypeRequest:
		return &Request{
			ClientID:  w.ClientID,
			RequestID: w.RequestID,
			Method:    w.Method,
			URL:       w.URL,
			Headers:   w.Headers,
			Body:      w.Body,
		}, nil
	case TypeResponse:
		return &Response{
			ClientID:   w.ClientID,
			RequestID:  w.RequestID,
			StatusCode: w.StatusCode,
			Headers:    w.Headers,
			Body:       w.Body,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, w.Type)
	}
}
