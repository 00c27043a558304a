// Package server assembles waflow and serves its HTTP surface.
//
// New builds every component from config: the SQLite store, a transport
// registry with a dialer per enabled transport, the push hub, the session
// manager, and the reply pipeline (memory, lead tracker, language model,
// knowledge retrieval, responder, router). The router is installed as the
// manager's inbound handler.
//
// # Routes
//
//   - GET /health, GET /health/ready
//   - GET {metrics.path} when metrics are enabled
//   - GET, POST /webhook/{sessionID} for the Cloud API transport
//   - /api/sessions and /api/leads, behind tenant JWT auth
//
// The listener is plain TCP on server.http_addr, or a tsnet node when
// tailscale is enabled. Funnel exposes the webhook publicly.
package server
