package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/medsearch-ai/orchestrator/internal/models"
)

// Key namespaces. Embeddings carry a long TTL (hours), results a short one.
const (
	nsEmbedding = "emb"
	nsResult    = "res"
)

// Namespace extracts the namespace prefix of a cache key for metrics labels.
func Namespace(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "unknown"
}

// EmbeddingKey derives the cache key for a query embedding from the
// normalized text and the model identifier.
func EmbeddingKey(model, text string) string {
	h := sha256.Sum256([]byte(model + "|" + normalize(text)))
	return nsEmbedding + ":" + hex.EncodeToString(h[:])
}

// ResultKey derives the cache key for a fused agent result list. The fusion
// weights are part of the key so retuning weights never serves stale rankings.
func ResultKey(collection, query string, lexicalWeight, semanticWeight float64, topK int, f *models.Filters) string {
	var b strings.Builder
	b.WriteString(collection)
	b.WriteByte('|')
	b.WriteString(normalize(query))
	fmt.Fprintf(&b, "|w=%.3f/%.3f|k=%d", lexicalWeight, semanticWeight, topK)
	if f != nil {
		fmt.Fprintf(&b, "|y=%d-%d", f.YearFrom, f.YearTo)
		if len(f.Categories) > 0 {
			b.WriteString("|c=" + strings.Join(f.Categories, ","))
		}
		if len(f.Sources) > 0 {
			b.WriteString("|s=" + strings.Join(f.Sources, ","))
		}
	}
	h := sha256.Sum256([]byte(b.String()))
	return nsResult + ":" + hex.EncodeToString(h[:])
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
