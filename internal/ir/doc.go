// Package ir provides the value model shared by every replicated type.
//
// This package contains type definitions and serialization only. All other
// internal packages import ir; ir imports nothing internal, so it stays the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - NO float types anywhere - numbers are int64, so every replica computes
//     bit-identical encodings
//   - Value is a sealed interface: register contents, set elements and
//     sequence elements are all Values
//   - Canonical encoding is RFC 8785 JSON (UTF-16 key order, NFC strings)
//   - Content-addressed ids use SHA-256 with domain separation
package ir
