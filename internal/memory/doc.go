// Package memory keeps short-lived conversation history per counterparty.
//
// Windows live only in process memory. An idle window is cleared lazily by
// ResetIfIdle when the next message arrives; there is no background sweeper.
package memory
