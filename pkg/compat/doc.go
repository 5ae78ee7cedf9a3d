// Package compat defines the wire types of the Chat Completions protocol
// spoken by the downstream backend, and an HTTP client for it.
//
// The client is pure transport: it sends already-built requests, decodes
// responses and SSE chunks, and maps downstream failures to the error
// taxonomy of package api. Translation between the two protocols lives in
// package translate.
package compat
