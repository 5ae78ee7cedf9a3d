// Package api defines the wire types of the Messages protocol that
// anthroute accepts from callers: requests, content blocks, streaming
// events, and the error taxonomy.
//
// Content is block-structured. A message carries either a bare string or
// an ordered sequence of typed content blocks discriminated by their
// "type" field (text, image, document, tool_use, tool_result, thinking,
// redacted_thinking). Streaming responses are expressed as named SSE
// events (message_start, content_block_start, content_block_delta,
// content_block_stop, message_delta, message_stop, error).
//
// The package holds pure data and JSON codecs; it performs no I/O.
package api
