// Package translate converts between the block-structured Messages
// protocol of package api and the flat Chat Completions protocol of
// package compat, in both directions.
//
// Translators are pure: they take an explicit Policy value and the
// request or response to convert, and perform no I/O. Streaming
// translation is modeled as the StreamState machine, which folds
// downstream chunks into ordered source-protocol events.
package translate
