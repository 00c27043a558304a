// Package llm adapts language model providers to a single Completer interface.
//
// Every adapter trims the reply and returns ErrEmptyResponse for blank
// output, so callers can treat all failures the same way.
package llm
