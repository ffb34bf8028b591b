package ocr

import (
	"context"
	"sync"

	"github.com/immotrace/contact-pipeline/internal/contact"
	"github.com/immotrace/contact-pipeline/internal/hash/sha256"
)

// CachingClient memoizes recognition results by image digest. Portals reuse
// the same photos across listings; recognizing each image once keeps OCR
// cost proportional to distinct images, not listings.
type CachingClient struct {
	inner  contact.OCRClient
	hasher *sha256.Hasher

	mu    sync.RWMutex
	cache map[string]string
}

// NewCachingClient wraps an OCR client with an in-memory result cache.
func NewCachingClient(inner contact.OCRClient) *CachingClient {
	return &CachingClient{
		inner:  inner,
		hasher: sha256.New(),
		cache:  make(map[string]string),
	}
}

// Recognize returns the cached text for a previously seen image, otherwise
// delegates to the wrapped client. Failed recognitions are not cached.
func (c *CachingClient) Recognize(ctx context.Context, image []byte) (string, error) {
	digest, err := c.hasher.Hash(image)
	if err != nil {
		return c.inner.Recognize(ctx, image)
	}

	c.mu.RLock()
	text, ok := c.cache[digest]
	c.mu.RUnlock()
	if ok {
		return text, nil
	}

	text, err = c.inner.Recognize(ctx, image)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cache[digest] = text
	c.mu.Unlock()
	return text, nil
}
