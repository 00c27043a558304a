// Package auth authenticates callers of the waflow HTTP API.
//
// Tenants present an HS256 JWT whose subject is their tenant id. Tokens
// minted with the admin flag belong to operators and may act on any tenant.
// Tokens are issued with the CLI's "token" command.
package auth
