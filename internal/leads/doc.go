// Package leads captures sales-lead data from inbound conversations.
//
// The Tracker keeps per-counterparty flags for one epoch. An epoch starts on
// the first message after startup or after an idle reset, and its flags are
// seeded from the persisted lead record. Ask flags are monotonic within an
// epoch, so the customer is asked for their email or name at most once.
package leads
