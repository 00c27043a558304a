// Package store provides persistent storage for waflow using SQLite.
//
// # Architecture
//
// The store package is interface driven. Consumers depend on the narrowest
// interface they need:
//
//   - SessionStore: per-tenant session records and their status
//   - CredentialStore: opaque transport credentials per session
//   - AgentStore: tenant agent configurations (one active per tenant)
//   - LeadStore: leads, unique per (tenant, counterparty)
//   - ConversationLogStore: append-only analytics rows
//
// SQLiteStore implements all of them in a single struct; Store is the union.
//
// # Session Status
//
// Sessions move through:
//
//	initializing -> link_ready -> connected -> disconnected
//
// Only connected sessions are restored on startup.
//
// # SQLite Configuration
//
// The store uses modernc.org/sqlite (pure Go) with WAL mode and a busy timeout:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// Timestamps are stored as RFC3339 text in UTC.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateLead: a lead already exists for the tenant/counterparty pair
//
// # Testing
//
// Use NewMockStore() for unit tests of packages that depend on Store.
package store
