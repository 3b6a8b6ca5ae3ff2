// Package errs defines the error taxonomy shared by the capture, transport and
// pipeline packages. Every failure that crosses a component boundary carries a
// Kind so callers can branch on it with errors.As instead of string matching.
package errs
