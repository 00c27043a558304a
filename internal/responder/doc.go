// Package responder turns an inbound message into a grounded reply.
//
// Retrieved passages scoring at or below the threshold are discarded before
// the prompt is built, and the model is told to answer only from what is
// left. Any model failure is replaced by FallbackReply.
package responder
