package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const connectTimeout = 10 * time.Second

// HTTPTransport calls a canister method via a JSON-over-HTTP gateway. The
// on-chain wire protocol itself is out of this system's core scope (spec
// §1 names it an external collaborator); this transport only needs to
// produce the same decoded-transaction shapes LedgerClient expects.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: baseURL,
		client:  &http.Client{Timeout: connectTimeout},
	}
}

func (t *HTTPTransport) Call(ctx context.Context, canisterID, method string, args any) ([]byte, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/api/v2/canister/%s/call/%s", t.baseURL, canisterID, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("canister call %s/%s: status %d", canisterID, method, resp.StatusCode)
	}
	return out, nil
}
