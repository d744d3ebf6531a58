package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/BaSui01/aigate/types"
)

// MapHTTPError maps an upstream status code onto the provider error taxonomy.
func MapHTTPError(status int, msg string, provider string) *types.Error {
	switch {
	case status == http.StatusTooManyRequests:
		return types.NewProviderRateLimited(provider, msg)
	case status >= 500, status == 529:
		return types.NewProviderUnavailable(provider, fmt.Errorf("status %d: %s", status, msg))
	default:
		return types.NewProviderInvalidResponse(provider, fmt.Sprintf("status %d: %s", status, msg))
	}
}

// MapTransportError classifies a failed round trip.
func MapTransportError(err error, provider string) *types.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewUpstreamTimeout(provider, err)
	}
	return types.NewProviderUnavailable(provider, err)
}

// ReadErrorMessage extracts the message of an error body, falling back to
// the raw text.
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return string(data)
}

// SafeCloseBody closes an HTTP body and drops the error.
func SafeCloseBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}

// PostJSON sends in as a JSON POST to url and decodes the answer into out.
// Every failure comes back as a *types.Error attributed to provider.
func PostJSON(ctx context.Context, client *http.Client, url string, setHeaders func(*http.Request), in, out any, provider string) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return types.NewInvalidRequestError("encode request").WithCause(err).WithProvider(provider)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return types.NewProviderUnavailable(provider, err)
	}
	setHeaders(httpReq)

	resp, err := client.Do(httpReq)
	if err != nil {
		return MapTransportError(err, provider)
	}
	defer SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		return MapHTTPError(resp.StatusCode, ReadErrorMessage(resp.Body), provider)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewProviderInvalidResponse(provider, "decode response: "+err.Error())
	}
	return nil
}
