package cfddns

import "context"

// Record is the provider's view of a DNS record.
type Record struct {
	ID      string
	Name    string
	Type    string
	Content string
	TTL     int
	Proxied bool
}

// UpdateParams carries the writable fields of a record update. The record
// type stays "A"; identity fields travel separately.
type UpdateParams struct {
	Content string
	TTL     int
	Proxied bool
}

// RecordClient is the provider surface the sync loop drives. Implementations
// must not retry internally; failures surface immediately so the loop's own
// schedule stays in charge. Errors are reported through *Error so the loop
// can tell unrecoverable failures (KindAuth, KindNotFound) from transient
// ones, except that context cancellation passes through unwrapped.
type RecordClient interface {
	// FindRecord locates the A record with the given fully qualified name.
	FindRecord(ctx context.Context, zoneID, name string) (Record, error)
	// GetRecord reads a record by its provider id.
	GetRecord(ctx context.Context, zoneID, recordID string) (Record, error)
	// UpdateRecord rewrites a record's content and settings, returning the
	// record as the provider now holds it.
	UpdateRecord(ctx context.Context, zoneID, recordID string, params UpdateParams) (Record, error)
}
