// Package knowledge retrieves grounding passages from a tenant's document index.
//
// Each tenant's chunks live in their own index namespace, tagged with the
// source document id so an agent can restrict retrieval to its documents.
package knowledge
