package cfddns

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudflare/cloudflare-go"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

func newCloudflareClient(token string, opts ...cloudflare.Option) (*cloudflareClient, error) {
	if token == "" {
		return nil, errors.New("api token cannot be empty")
	}
	// The SDK retries 5xx and 429 responses on its own by default. Retry
	// scheduling belongs to the sync loop, so the client gets one attempt
	// per call. Caller options may still override this.
	opts = append([]cloudflare.Option{cloudflare.UsingRetryPolicy(0, 0, 0)}, opts...)
	api, err := cloudflare.NewWithAPIToken(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating cloudflare api client: %w", err)
	}
	return &cloudflareClient{api: api, logger: zap.NewNop()}, nil
}

// cloudflareClient implements RecordClient over the Cloudflare v4 API.
type cloudflareClient struct {
	api    *cloudflare.API
	logger *zap.Logger
}

func (cf *cloudflareClient) FindRecord(ctx context.Context, zoneID, name string) (Record, error) {
	const op = "cloudflare.find"
	records, _, err := cf.api.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(zoneID), cloudflare.ListDNSRecordsParams{
		Type: "A",
		Name: name,
	})
	if err != nil {
		return Record{}, classify(op, err, KindProvider)
	}
	// The API filters server-side; the client-side match guards against
	// partial-name responses. DNS names compare case-insensitively.
	record, found := lo.Find(records, func(r cloudflare.DNSRecord) bool {
		return r.Type == "A" && strings.EqualFold(r.Name, name)
	})
	if !found {
		return Record{}, &Error{
			Kind: KindNotFound,
			Op:   op,
			Err:  fmt.Errorf("zone %s has no A record named %q", zoneID, name),
		}
	}
	cf.logger.Debug("found record",
		zap.String("record_id", record.ID),
		zap.String("name", record.Name),
		zap.String("content", record.Content),
	)
	return fromDNSRecord(record), nil
}

func (cf *cloudflareClient) GetRecord(ctx context.Context, zoneID, recordID string) (Record, error) {
	const op = "cloudflare.get"
	record, err := cf.api.GetDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), recordID)
	if err != nil {
		return Record{}, classify(op, err, KindProvider)
	}
	return fromDNSRecord(record), nil
}

func (cf *cloudflareClient) UpdateRecord(ctx context.Context, zoneID, recordID string, params UpdateParams) (Record, error) {
	const op = "cloudflare.update"
	proxied := params.Proxied
	record, err := cf.api.UpdateDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), cloudflare.UpdateDNSRecordParams{
		ID:      recordID,
		Type:    "A",
		Content: params.Content,
		TTL:     params.TTL,
		Proxied: &proxied,
	})
	if err != nil {
		return Record{}, classify(op, err, KindValidation)
	}
	cf.logger.Debug("updated record",
		zap.String("record_id", record.ID),
		zap.String("content", record.Content),
	)
	return fromDNSRecord(record), nil
}

// VerifyToken checks that token is accepted by the provider and active.
func VerifyToken(ctx context.Context, token string, opts ...cloudflare.Option) error {
	cf, err := newCloudflareClient(token, opts...)
	if err != nil {
		return err
	}
	return cf.verifyToken(ctx)
}

func (cf *cloudflareClient) verifyToken(ctx context.Context) error {
	const op = "cloudflare.verify"
	result, err := cf.api.VerifyAPIToken(ctx)
	if err != nil {
		return classify(op, err, KindProvider)
	}
	if result.Status != "active" {
		return &Error{
			Kind: KindAuth,
			Op:   op,
			Err:  fmt.Errorf("expected api token status to be \"active\"; got %q", result.Status),
		}
	}
	return nil
}

func fromDNSRecord(r cloudflare.DNSRecord) Record {
	record := Record{
		ID:      r.ID,
		Name:    r.Name,
		Type:    r.Type,
		Content: r.Content,
		TTL:     r.TTL,
	}
	if r.Proxied != nil {
		record.Proxied = *r.Proxied
	}
	return record
}

// classify maps SDK failures onto error kinds. badRequestKind decides what a
// plain 4xx means: on reads it is the provider misbehaving, on writes it is
// a rejected payload.
func classify(op string, err error, badRequestKind Kind) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var (
		authErr      *cloudflare.AuthenticationError
		authzErr     *cloudflare.AuthorizationError
		notFoundErr  *cloudflare.NotFoundError
		ratelimitErr *cloudflare.RatelimitError
		serviceErr   *cloudflare.ServiceError
		requestErr   *cloudflare.RequestError
	)
	switch {
	case errors.As(err, &authErr), errors.As(err, &authzErr):
		return &Error{Kind: KindAuth, Op: op, Err: err}
	case errors.As(err, &notFoundErr):
		return &Error{Kind: KindNotFound, Op: op, Err: err}
	case errors.As(err, &ratelimitErr), errors.As(err, &serviceErr):
		return &Error{Kind: KindProvider, Op: op, Err: err}
	case errors.As(err, &requestErr):
		return &Error{Kind: badRequestKind, Op: op, Err: err}
	}
	return &Error{Kind: KindProvider, Op: op, Err: err}
}
