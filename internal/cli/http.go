package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/protocol"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

func getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("GET %s: decode: %w", url, err)
	}
	return nil
}

func fetchStatus(ctx context.Context, baseURL string) (protocol.Status, error) {
	var st protocol.Status
	err := getJSON(ctx, baseURL+"/status", &st)
	return st, err
}

// fetchICEServers asks the server which STUN/TURN servers to use.
func fetchICEServers(ctx context.Context, baseURL string) ([]webrtc.ICEServer, error) {
	var body struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}
	if err := getJSON(ctx, baseURL+"/webrtc/ice", &body); err != nil {
		return nil, err
	}
	return body.ICEServers, nil
}
