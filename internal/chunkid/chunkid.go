// Package chunkid computes the deterministic chunk identity shared by the
// metadata store and the vector store.
package chunkid

import (
	"fmt"

	"github.com/google/uuid"
)

// ChunkID returns UUIDv5(NAMESPACE_URL, "{repo}:{branch}:{path}:{generation}:{byte_start}:{byte_end}").
// Identical inputs always yield the same id across processes, which is what
// makes cross-store upserts and retries idempotent.
func ChunkID(repositoryID, branch, filePath string, generation int64, byteStart, byteEnd int) uuid.UUID {
	key := fmt.Sprintf("%s:%s:%s:%d:%d:%d", repositoryID, branch, filePath, generation, byteStart, byteEnd)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key))
}
