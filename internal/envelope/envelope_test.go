// ABOUTME: Tests for envelope encoding and decoding.
// ABOUTME: Covers body base64 round trips, header shapes, and malformed input.

package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	req := &Request{
		ClientID:  "agent-1",
		RequestID: "req-42",
		Method:    "POST",
		URL:       "/api/things?q=1",
		Headers: Header{
			"Content-Type": {"application/json"},
			"Accept":       {"text/html", "application/json"},
		},
		Body: []byte(`{"hello":"world"}`),
	}

	payload, err := EncodeRequest(req)
	require.NoError(t, err)

	env, err := Decode(payload)
	require.NoError(t, err)

	got, ok := env.(*Request)
	require.True(t, ok, "expected *Request, got %T", env)
	assert.Equal(t, req.ClientID, got.ClientID)
	assert.Equal(t, req.RequestID, got.RequestID)
	assert.Equal(t, req.Method, got.Method)
	assert.Equal(t, req.URL, got.URL)
	assert.Equal(t, req.Headers, got.Headers)
	assert.Equal(t, req.Body, got.Body)
}

func TestResponseRoundTrip(t *testing.T) {
	t.Run("typical response", func(t *testing.T) {
		resp := &Response{
			ClientID:   "agent-1",
			RequestID:  "req-42",
			StatusCode: 200,
			Headers:    Header{"Content-Type": {"text/plain"}},
			Body:       []byte("hi"),
		}

		payload, err := EncodeResponse(resp)
		require.NoError(t, err)

		env, err := Decode(payload)
		require.NoError(t, err)

		got, ok := env.(*Response)
		require.True(t, ok, "expected *Response, got %T", env)
		assert.Equal(t, resp, got)
	})

	t.Run("large body survives bit-identical", func(t *testing.T) {
		body := bytes.Repeat([]byte{0x00, 0xFF, 0x7E, 0x01}, 256*1024)
		resp := &Response{
			ClientID:   "agent-1",
			RequestID:  "req-big",
			StatusCode: 200,
			Body:       body,
		}

		payload, err := EncodeResponse(resp)
		require.NoError(t, err)

		env, err := Decode(payload)
		require.NoError(t, err)
		assert.Equal(t, body, env.(*Response).Body)
	})

	t.Run("empty body decodes to zero length", func(t *testing.T) {
		payload, err := EncodeResponse(&Response{
			ClientID:   "agent-1",
			RequestID:  "req-empty",
			StatusCode: 204,
		})
		require.NoError(t, err)

		env, err := Decode(payload)
		require.NoError(t, err)
		assert.Empty(t, env.(*Response).Body)
	})
}

func TestWireShape(t *testing.T) {
	t.Run("body is base64 text on the wire", func(t *testing.T) {
		payload, err := EncodeResponse(&Response{
			ClientID:   "agent-1",
			RequestID:  "req-1",
			StatusCode: 200,
			Body:       []byte("raw bytes"),
		})
		require.NoError(t, err)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(payload, &raw))
		assert.Equal(t, "response", raw["type"])
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("raw bytes")), raw["body"])
	})

	t.Run("headers encode as arrays", func(t *testing.T) {
		payload, err := EncodeRequest(&Request{
			ClientID:  "agent-1",
			RequestID: "req-1",
			Method:    "GET",
			URL:       "/",
			Headers:   Header{"X-One": {"a"}},
		})
		require.NoError(t, err)

		var raw struct {
			Headers map[string][]string `json:"headers"`
		}
		require.NoError(t, json.Unmarshal(payload, &raw))
		assert.Equal(t, []string{"a"}, raw.Headers["X-One"])
	})
}

func TestDecodeHeaderShapes(t *testing.T) {
	t.Run("accepts bare string values", func(t *testing.T) {
		payload := []byte(`{"type":"request","clientId":"c","requestId":"r",
			"method":"GET","url":"/x",
			"headers":{"Accept":"text/plain","X-Multi":["a","b"]}}`)

		env, err := Decode(payload)
		require.NoError(t, err)

		req := env.(*Request)
		assert.Equal(t, []string{"text/plain"}, req.Headers["Accept"])
		assert.Equal(t, []string{"a", "b"}, req.Headers["X-Multi"])
	})

	t.Run("rejects non-string header values", func(t *testing.T) {
		payload := []byte(`{"type":"request","clientId":"c","requestId":"r",
			"method":"GET","url":"/x","headers":{"Bad":42}}`)

		_, err := Decode(payload)
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"not json", `{{{`},
		{"unknown type", `{"type":"ping","requestId":"r"}`},
		{"missing type", `{"requestId":"r"}`},
		{"missing requestId", `{"type":"response","clientId":"c","statusCode":200}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.payload))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	payload := []byte(`{"type":"response","clientId":"c","requestId":"r",
		"statusCode":200,"headers":{},"body":"","futureField":true}`)

	env, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, 200, env.(*Response).StatusCode)
}
