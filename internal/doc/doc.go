// Package doc provides the generic nested-document representation exchanged
// with remote stores.
//
// A document is a Map of string keys to Values. Value is a sealed interface:
// only Null, String, Int, Float, Bool, Array and Map implement it, so every
// backend and the entity codec agree on exactly one shape.
//
// This package imports nothing internal. The codec, the remote stores and the
// engine all build on it.
//
// Key design constraints:
//   - Integers stay int64 end to end (JSON decoding uses json.Number)
//   - Map keys are serialized in RFC 8785 order (UTF-16 code units)
//   - Revision hashes are computed over canonical JSON only
package doc
