// Package envelope defines the JSON messages carried inside tunnel frames.
//
// Two variants exist, discriminated by the "type" field:
//
//	{"type":"request","clientId":...,"requestId":...,
//	 "method":...,"url":...,"headers":{...},"body":"<base64>"}
//
//	{"type":"response","clientId":...,"requestId":...,
//	 "statusCode":...,"headers":{...},"body":"<base64>"}
//
// Bodies travel as base64 strings; an empty or absent body means zero
// length. Header values may arrive as a bare string or an array of
// strings and are always emitted as arrays. Unknown fields are ignored
// so the wire format can grow without breaking older peers.
package envelope
