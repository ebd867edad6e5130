// Package breach checks candidate passwords against a public breach corpus
// using the k-anonymity range scheme: only the first five hex characters of
// the password's SHA-1 leave the process, and the returned suffix list is
// scanned locally.
package breach

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/driftlyhq/driftly/internal/platform/errors"
)

const defaultRangeURL = "https://api.pwnedpasswords.com/range"

const prefixLength = 5

// Client queries a range endpoint for breached password hashes.
type Client struct {
	rangeURL string
	client   *http.Client
}

// NewClient builds a breach client against the public range endpoint.
func NewClient() *Client {
	return &Client{
		rangeURL: defaultRangeURL,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// IsBreached reports whether the password's full SHA-1 appears in the range
// response for its five-character prefix. Transport failures surface as a
// retryable unavailability, never as a breach verdict.
func (c *Client) IsBreached(ctx context.Context, password string) (bool, error) {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := digest[:prefixLength], digest[prefixLength:]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.rangeURL+"/"+prefix, nil)
	if err != nil {
		return false, fmt.Errorf("build range request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeBreachCheckUnavailable, "breach check unavailable", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false, apperrors.New(apperrors.CodeBreachCheckUnavailable, "breach check unavailable")
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		candidate, _, _ := strings.Cut(strings.TrimSpace(scanner.Text()), ":")
		if strings.EqualFold(candidate, suffix) {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CodeBreachCheckUnavailable, "breach check unavailable", err)
	}
	return false, nil
}
