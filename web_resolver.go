package cfddns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// DefaultIPServices are the echo services consulted when none are configured.
// The trace endpoint answers with key=value lines; checkip answers with a
// bare address.
var DefaultIPServices = []string{
	"https://1.1.1.1/cdn-cgi/trace",
	"https://checkip.amazonaws.com",
}

// Echo-service bodies are a few hundred bytes at most. Anything bigger is
// not an IP address.
const maxResponseBytes = 4 << 10

// WebResolver constructs a resolver which asks external web services for the
// host's public IPv4 address.
//
// Services are tried strictly in the order given. The first response that
// parses as a valid IPv4 address wins; a later service is only contacted
// after every earlier one has failed with a network error, a non-200 status,
// or an unparsable body. Calling WebResolver with no arguments uses
// DefaultIPServices.
//
// Each service must speak http(s) and answer with one of: a bare address,
// cdn-cgi/trace key=value lines, or a JSON object carrying an "ip" field.
func WebResolver(serviceURL ...string) (Resolver, error) {
	if len(serviceURL) == 0 {
		serviceURL = DefaultIPServices
	}
	var urls []*url.URL
	for _, u := range serviceURL {
		pu, err := url.Parse(u)
		if err != nil {
			return nil, fmt.Errorf("error parsing service URL %q: %w", u, err)
		}
		if pu.Scheme != "http" && pu.Scheme != "https" {
			return nil, fmt.Errorf("service URL %q must use http or https", u)
		}
		urls = append(urls, pu)
	}
	return &webResolver{serviceURLs: urls}, nil
}

type webResolver struct {
	httpClient  *http.Client
	serviceURLs []*url.URL
}

// Resolve implements Resolver. It returns the answer of the first service
// that produces a valid IPv4 address, or the joined errors of every service
// when none does.
func (wr *webResolver) Resolve(ctx context.Context) (netip.Addr, error) {
	var errs []error
	for _, u := range wr.serviceURLs {
		addr, err := wr.lookup(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return netip.Addr{}, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("%s: %w", u.Host, err))
			continue
		}
		return addr, nil
	}
	return netip.Addr{}, fmt.Errorf("all %d IP services failed: %w", len(wr.serviceURLs), errors.Join(errs...))
}

func (wr *webResolver) lookup(ctx context.Context, u *url.URL) (netip.Addr, error) {
	// 15 seconds is an eternity for the size of this request, but it
	// guarantees that Resolve completes even when the caller supplied
	// context.Background and a client with no timeout.
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	httpclient := wr.httpClient
	if httpclient == nil {
		httpclient = http.DefaultClient
	}

	resp, err := httpclient.Do(req)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("http request returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error reading response body: %w", err)
	}
	ipstring, err := extractIP(body)
	if err != nil {
		return netip.Addr{}, err
	}
	return parseIPv4(ipstring)
}

// extractIP pulls the address text out of the body shapes echo services use:
// a bare address on the first line, cdn-cgi/trace key=value lines, or a JSON
// object with an "ip" field.
func extractIP(body []byte) (string, error) {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return "", errors.New("empty response body")
	}
	if strings.HasPrefix(s, "{") {
		var payload struct {
			IP string `json:"ip"`
		}
		if err := json.Unmarshal([]byte(s), &payload); err != nil {
			return "", fmt.Errorf("error decoding JSON body: %w", err)
		}
		if payload.IP == "" {
			return "", errors.New(`JSON body has no "ip" field`)
		}
		return payload.IP, nil
	}
	lines := strings.Split(s, "\n")
	for _, line := range lines {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "ip="); ok {
			return v, nil
		}
	}
	return strings.TrimSpace(lines[0]), nil
}
