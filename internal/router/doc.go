// Package router drives the inbound message pipeline.
//
// Each event is filtered (own echoes, groups, broadcasts, non-text and
// redeliveries are dropped), its sender is normalized to a counterparty id,
// and the rest of the work runs under a per-counterparty lock: idle reset,
// active agent lookup, lead capture, reply generation, memory update, send
// and the conversation log row.
package router
