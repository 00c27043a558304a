// Package config handles configuration loading for waflow.
//
// # Overview
//
// Configuration is loaded from a YAML file (or TOML when the file name ends in
// .toml) with environment variable expansion, defaults, and validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from WAFLOW_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/waflow/config.yaml
//  3. ~/.config/waflow/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	llm:
//	  api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	sessions:
//	  reconnect_delay: "5s"
//	llm:
//	  timeout: "30s"
//	conversation:
//	  idle_timeout: "30m"
//	  dedupe_ttl: "10m"
//
// # Configuration Sections
//
//	server:        http_addr
//	tailscale:     enabled, hostname, auth_key, state_dir, ephemeral, funnel
//	database:      path
//	auth:          jwt_secret (>= 32 chars, signs tenant tokens)
//	sessions:      default_transport, restore_on_start, event_buffer, reconnect_delay
//	whatsapp:      enabled, store_path
//	matrix:        enabled
//	cloudapi:      enabled, verify_token, graph_url, api_version
//	llm:           provider (openai|anthropic|gemini|ollama), model, api_key, base_url,
//	               max_tokens, temperature, timeout
//	knowledge:     enabled, index_url, index_api_key, embedding_model,
//	               embedding_api_key, top_k, min_score, max_context_tokens
//	conversation:  window_size, history_turns, idle_timeout, dedupe_ttl
//	logging:       level, format
//	metrics:       enabled, path
//
// # Defaults
//
// Reconnect delay 5s, LLM timeout 30s, top_k 5, min_score 0.3, window size 20,
// history turns 8, idle timeout 30m. The WhatsApp device store lives next to the
// main database unless whatsapp.store_path is set.
package config
