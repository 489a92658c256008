// Package memory defines the long-term conversational memory contracts:
// immutable memory chunks, the vector index they live in, and the text
// embedder that produces their vectors.
//
// Architecture:
//   - Chunk: an immutable, embedded span of conversation text
//   - Index: vector storage backend (chromem-go locally, pgvector in production)
//   - Embedder: text-to-vector conversion (mock for tests, Ollama locally,
//     API-based embedders in production)
//
// Both Index and Embedder are external collaborators on the query path, so
// every call carries a context deadline and failures map to the package
// sentinels ErrIndexUnavailable and ErrEmbeddingUnavailable. Callers are
// expected to degrade to emptier context rather than surface these.
package memory
