package contact

import (
	"context"
	"time"
)

// Source supplies batches of raw listings for one upstream site. The pipeline
// treats it as an opaque iterator; adapters own the wire format.
type Source interface {
	Name() string
	FetchBatch(ctx context.Context) ([]RawListing, error)
}

// Store persists contacts with create-or-merge semantics. Implementations
// must serialize writes for the same dedup key.
type Store interface {
	FindByKey(ctx context.Context, key Key) (Contact, bool, error)
	// ListByType returns all contacts of one type; the fuzzy pass scans these.
	ListByType(ctx context.Context, t ContactType) ([]Contact, error)
	UpsertContact(ctx context.Context, c Contact) (Contact, error)
}

// Publisher pushes discovery events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// OCRClient recognizes text in an image. Failures degrade to "no text
// extracted"; they are never pipeline errors.
type OCRClient interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// ImageStore resolves the opaque image refs carried by listings into bytes.
type ImageStore interface {
	GetImage(ctx context.Context, ref string) ([]byte, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces contact IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
