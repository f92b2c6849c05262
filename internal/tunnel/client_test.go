// ABOUTME: Tests for the agent tunnel loop, URL resolution, and upstream calls.
// ABOUTME: Uses in-memory pipes as the tunnel and httptest servers as origins.

package tunnel

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/tunnelgate/internal/config"
	"github.com/2389/tunnelgate/internal/envelope"
	"github.com/2389/tunnelgate/internal/frame"
)

func newTestClient(t *testing.T, mutate func(*config.Config)) *Client {
	t.Helper()

	cfg := config.Default()
	cfg.Reconnection.DelayMs = 10
	if mutate != nil {
		mutate(cfg)
	}

	c, err := New(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return c
}

func writeFrame(t *testing.T, conn net.Conn, payload []byte) {
	t.Helper()
	framed, err := frame.Encode(payload)
	require.NoError(t, err)
	_, err = conn.Write(framed)
	require.NoError(t, err)
}

func readResponseEnvelope(t *testing.T, conn net.Conn) *envelope.Response {
	t.Helper()

	header := make([]byte, 4)
	_, err := io.ReadFull(conn, header)
	require.NoError(t, err)
	payload := make([]byte, binary.BigEndian.Uint32(header))
	_, err = io.ReadFull(conn, payload)
	require.NoError(t, err)

	env, err := envelope.Decode(payload)
	require.NoError(t, err)
	resp, ok := env.(*envelope.Response)
	require.True(t, ok, "expected response envelope, got %T", env)
	return resp
}

func TestNew(t *testing.T) {
	t.Run("rejects relative defaultTarget", func(t *testing.T) {
		cfg := config.Default()
		cfg.Client.Proxy.DefaultTarget = "/not/absolute"
		_, err := New(cfg, slog.New(slog.DiscardHandler))
		assert.Error(t, err)
	})

	t.Run("rejects invalid rewrite rules", func(t *testing.T) {
		cfg := config.Default()
		cfg.Client.Proxy.RewriteRules = []config.RewriteRule{{Pattern: "([", Replacement: "x"}}
		_, err := New(cfg, slog.New(slog.DiscardHandler))
		assert.Error(t, err)
	})
}

func TestResolveTarget(t *testing.T) {
	t.Run("relative url resolves against defaultTarget", func(t *testing.T) {
		c := newTestClient(t, func(cfg *config.Config) {
			cfg.Client.Proxy.DefaultTarget = "http://h:9/x"
		})

		assert.Equal(t, "http://h:9/foo", c.resolveTarget("/foo"))
	})

	t.Run("absolute url passes through untouched", func(t *testing.T) {
		c := newTestClient(t, nil)
		assert.Equal(t, "https://elsewhere/p?q=1", c.resolveTarget("https://elsewhere/p?q=1"))
	})

	t.Run("rewrite applies after resolution", func(t *testing.T) {
		c := newTestClient(t, func(cfg *config.Config) {
			cfg.Client.Proxy.DefaultTarget = "http://origin:9090"
			cfg.Client.Proxy.RewriteRules = []config.RewriteRule{
				{Pattern: "^http://origin:9090/hello", Replacement: "http://origin:9090/world"},
			}
		})

		assert.Equal(t, "http://origin:9090/world", c.resolveTarget("/hello"))
	})
}

func TestPerform(t *testing.T) {
	t.Run("proxies method, headers, and body to origin", func(t *testing.T) {
		var gotMethod, gotHost string
		var gotAccept []string
		var gotBody []byte

		origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotHost = r.Host
			gotAccept = r.Header.Values("Accept")
			gotBody, _ = io.ReadAll(r.Body)

			w.Header().Add("Set-Cookie", "a=1")
			w.Header().Add("Set-Cookie", "b=2")
			w.WriteHeader(201)
			_, _ = w.Write([]byte("created"))
		}))
		defer origin.Close()

		c := newTestClient(t, func(cfg *config.Config) {
			cfg.Client.Proxy.DefaultTarget = origin.URL
		})

		resp := c.perform(context.Background(), &envelope.Request{
			ClientID:  "agent-1",
			RequestID: "req-1",
			Method:    "POST",
			URL:       "/submit",
			Headers: envelope.Header{
				"Accept": {"text/html", "application/json"},
				"Host":   {"spoofed.example.com"},
			},
			Body: []byte("payload"),
		})

		assert.Equal(t, "POST", gotMethod)
		assert.Equal(t, []string{"text/html", "application/json"}, gotAccept)
		assert.Equal(t, []byte("payload"), gotBody)
		// Host comes from the target URL, not the tunneled header set.
		assert.NotEqual(t, "spoofed.example.com", gotHost)

		assert.Equal(t, 201, resp.StatusCode)
		assert.Equal(t, "req-1", resp.RequestID)
		assert.Equal(t, "agent-1", resp.ClientID)
		assert.Equal(t, []string{"a=1", "b=2"}, resp.Headers["Set-Cookie"])
		assert.Equal(t, []byte("created"), resp.Body)
	})

	t.Run("unreachable origin yields synthetic 500", func(t *testing.T) {
		c := newTestClient(t, func(cfg *config.Config) {
			// Reserved port that nothing listens on.
			cfg.Client.Proxy.DefaultTarget = "http://127.0.0.1:1"
		})

		resp := c.perform(context.Background(), &envelope.Request{
			ClientID:  "agent-1",
			RequestID: "req-dns",
			Method:    "GET",
			URL:       "/unreachable",
		})

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, []byte("Internal Server Error"), resp.Body)
		assert.Empty(t, resp.Headers)
		assert.Equal(t, "req-dns", resp.RequestID)
	})

	t.Run("unparseable method yields synthetic 500", func(t *testing.T) {
		c := newTestClient(t, nil)

		resp := c.perform(context.Background(), &envelope.Request{
			ClientID:  "agent-1",
			RequestID: "req-bad",
			Method:    "BAD METHOD",
			URL:       "/x",
		})

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestServe(t *testing.T) {
	t.Run("request envelope in, response envelope out", func(t *testing.T) {
		origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("hi"))
		}))
		defer origin.Close()

		c := newTestClient(t, func(cfg *config.Config) {
			cfg.Client.Proxy.DefaultTarget = origin.URL
		})

		brokerEnd, agentEnd := net.Pipe()
		defer brokerEnd.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go c.serve(ctx, agentEnd)

		payload, err := envelope.EncodeRequest(&envelope.Request{
			ClientID:  "agent-1",
			RequestID: "req-serve",
			Method:    "GET",
			URL:       "/hello",
		})
		require.NoError(t, err)
		writeFrame(t, brokerEnd, payload)

		resp := readResponseEnvelope(t, brokerEnd)
		assert.Equal(t, "req-serve", resp.RequestID)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, []byte("hi"), resp.Body)
		assert.Equal(t, []string{"text/plain"}, resp.Headers["Content-Type"])
	})

	t.Run("malformed envelope is dropped, socket survives", func(t *testing.T) {
		origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("ok"))
		}))
		defer origin.Close()

		c := newTestClient(t, func(cfg *config.Config) {
			cfg.Client.Proxy.DefaultTarget = origin.URL
		})

		brokerEnd, agentEnd := net.Pipe()
		defer brokerEnd.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go c.serve(ctx, agentEnd)

		writeFrame(t, brokerEnd, []byte("garbage"))

		payload, err := envelope.EncodeRequest(&envelope.Request{
			ClientID:  "agent-1",
			RequestID: "req-after-garbage",
			Method:    "GET",
			URL:       "/",
		})
		require.NoError(t, err)
		writeFrame(t, brokerEnd, payload)

		resp := readResponseEnvelope(t, brokerEnd)
		assert.Equal(t, "req-after-garbage", resp.RequestID)
		assert.Equal(t, 200, resp.StatusCode)
	})

	t.Run("concurrent requests are answered independently", func(t *testing.T) {
		origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("path:" + r.URL.Path))
		}))
		defer origin.Close()

		c := newTestClient(t, func(cfg *config.Config) {
			cfg.Client.Proxy.DefaultTarget = origin.URL
		})

		brokerEnd, agentEnd := net.Pipe()
		defer brokerEnd.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go c.serve(ctx, agentEnd)

		ids := []string{"req-a", "req-b", "req-c"}
		for _, id := range ids {
			payload, err := envelope.EncodeRequest(&envelope.Request{
				ClientID:  "agent-1",
				RequestID: id,
				Method:    "GET",
				URL:       "/" + id,
			})
			require.NoError(t, err)
			writeFrame(t, brokerEnd, payload)
		}

		got := make(map[string]string)
		for range ids {
			resp := readResponseEnvelope(t, brokerEnd)
			got[resp.RequestID] = string(resp.Body)
		}

		for _, id := range ids {
			assert.Equal(t, "path:/"+id, got[id])
		}
	})
}

func TestRunReconnects(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)

	c := newTestClient(t, func(cfg *config.Config) {
		cfg.Client.Server.Host = "127.0.0.1"
		cfg.Client.Server.Port = addr.Port
		cfg.Reconnection.DelayMs = 10
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// First connection: accept, then kill it.
	first, err := ln.Accept()
	require.NoError(t, err)
	first.Close()

	// The client comes back on its own.
	second, err := ln.Accept()
	require.NoError(t, err)
	defer second.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
