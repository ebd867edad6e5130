// Package geoip resolves a request's origin IP to a coarse location for
// login notifications. Lookups are best-effort and never block a login.
package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultLookupURL = "http://ip-api.com/json"

// Location is a coarse request origin.
type Location struct {
	Country string
	City    string
}

// String formats the location for a notification line.
func (l Location) String() string {
	switch {
	case l.City != "" && l.Country != "":
		return l.City + ", " + l.Country
	case l.Country != "":
		return l.Country
	default:
		return "unknown location"
	}
}

// Resolver looks up the location behind an IP address.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (Location, error)
}

// HTTPResolver resolves locations through a JSON lookup endpoint.
type HTTPResolver struct {
	lookupURL string
	client    *http.Client
}

// NewHTTPResolver builds a resolver against the public lookup endpoint.
func NewHTTPResolver() *HTTPResolver {
	return &HTTPResolver{
		lookupURL: defaultLookupURL,
		client:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Resolve looks up one IP address.
func (r *HTTPResolver) Resolve(ctx context.Context, ip string) (Location, error) {
	if ip == "" {
		return Location{}, fmt.Errorf("ip is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.lookupURL+"/"+ip, nil)
	if err != nil {
		return Location{}, fmt.Errorf("build geoip request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("geoip lookup: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("geoip lookup responded %d", resp.StatusCode)
	}

	var payload struct {
		Status  string `json:"status"`
		Country string `json:"country"`
		City    string `json:"city"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Location{}, fmt.Errorf("decode geoip response: %w", err)
	}
	if payload.Status != "success" {
		return Location{}, fmt.Errorf("geoip lookup failed for %s", ip)
	}
	return Location{Country: payload.Country, City: payload.City}, nil
}
