package mesh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/edgecoder/coordinator/internal/identity"
)

// Transport abstracts the HTTP calls the mesh layer makes to peers, so
// tests can substitute an in-memory fake instead of real sockets.
type Transport interface {
	FetchIdentity(ctx context.Context, url string) (IdentityResponse, error)
	RegisterPeer(ctx context.Context, url string, self IdentityResponse) error
	FetchPeers(ctx context.Context, url string) ([]Entry, error)
	Ingest(ctx context.Context, url string, msg MessageEnvelope) error
}

// IdentityResponse mirrors GET /identity's body (spec §4.1).
type IdentityResponse struct {
	PeerID      string `json:"peerId"`
	PublicKeyPem string `json:"publicKeyPem"`
	URL         string `json:"url"`
	NetworkMode string `json:"networkMode"`
	Role        string `json:"role"`
}

// MessageEnvelope is the JSON shape posted to POST /mesh/ingest; it is a
// thin alias kept here to avoid a mesh<->protocol import cycle while
// still being structurally identical to protocol.Message.
type MessageEnvelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	FromPeerID string          `json:"fromPeerId"`
	IssuedAtMs int64           `json:"issuedAtMs"`
	TTLMs      int64           `json:"ttlMs"`
	Payload    json.RawMessage `json:"payload"`
	Signature  string          `json:"signature"`
}

// HTTPTransport is the production Transport, one *http.Client shared
// across all peer calls with a per-call timeout (spec §5: "every outbound
// request accepts a deadline or cancellation signal").
type HTTPTransport struct {
	Client *http.Client
}

func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{Client: &http.Client{Timeout: timeout}}
}

func (t *HTTPTransport) FetchIdentity(ctx context.Context, url string) (IdentityResponse, error) {
	var out IdentityResponse
	err := t.getJSON(ctx, url+"/identity", &out)
	return out, err
}

func (t *HTTPTransport) RegisterPeer(ctx context.Context, url string, self IdentityResponse) error {
	return t.postJSON(ctx, url+"/mesh/register-peer", self, nil)
}

func (t *HTTPTransport) FetchPeers(ctx context.Context, url string) ([]Entry, error) {
	var raw struct {
		Peers []struct {
			PeerID      string `json:"peerId"`
			PublicKey   string `json:"publicKeyPem"`
			Role        string `json:"role"`
			NetworkMode string `json:"networkMode"`
			URL         string `json:"url"`
			LastSeenMs  int64  `json:"lastSeenMs"`
		} `json:"peers"`
	}
	if err := t.getJSON(ctx, url+"/mesh/peers", &raw); err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raw.Peers))
	for _, r := range raw.Peers {
		out = append(out, Entry{
			PeerID:      r.PeerID,
			Role:        roleFrom(r.Role),
			NetworkMode: networkModeFrom(r.NetworkMode),
			URL:         r.URL,
			LastSeenMs:  r.LastSeenMs,
		})
	}
	return out, nil
}

func (t *HTTPTransport) Ingest(ctx context.Context, url string, msg MessageEnvelope) error {
	return t.postJSON(ctx, url+"/mesh/ingest", msg, nil)
}

func (t *HTTPTransport) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mesh: %s returned %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (t *HTTPTransport) postJSON(ctx context.Context, url string, body, out interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mesh: %s returned %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func roleFrom(s string) identity.Role { return identity.Role(s) }

func networkModeFrom(s string) identity.NetworkMode { return identity.NetworkMode(s) }
