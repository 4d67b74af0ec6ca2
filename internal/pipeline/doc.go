// Package pipeline implements the pure conversion steps that run before any
// rendering:
//   - Sanitize strips executable markup from raw Markdown
//   - ToHTML converts Markdown to a sanitized HTML fragment via goldmark
//   - Compose wraps a fragment in a complete, styled HTML document
//
// None of these steps fail in normal operation. PDF rendering lives in the
// render and conversion packages, which keeps this package free of browser
// and transport concerns.
package pipeline
