// Package config loads tunnelgate configuration.
//
// Configuration is YAML with ${VAR_NAME} environment variable expansion.
// Every key is optional; Load overlays the file on top of Default(), so an
// empty file (or no file at all) yields a working localhost setup:
//
//	server:
//	  http:   { host: 0.0.0.0, port: 3000 }
//	  socket: { host: 0.0.0.0, port: 3001 }
//	client:
//	  server: { host: localhost, port: 3001 }
//	  proxy:
//	    defaultTarget: http://example.com
//	    rewriteRules: []
//	reconnection: { delay: 5000 }
//	request_timeout: 30000
//	max_frame_bytes: 16777216
//
// The broker and the agent read the same file shape; each consumes its own
// section and ignores the rest.
package config
