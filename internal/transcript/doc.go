// Package transcript defines backend transcript events and folds them into
// the running transcript: finalized text that only grows, plus the single
// in-flight partial hypothesis.
package transcript
