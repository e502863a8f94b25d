package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/isopen-io/meeshy-sub020/internal/config"
	"github.com/isopen-io/meeshy-sub020/internal/core/contracts"
)

// Dispatcher posts notification payloads to the external push gateway.
// Delivery transport (APNs/FCM/email) is the gateway's problem.
type Dispatcher struct {
	gatewayURL string
	authToken  string
	http       *http.Client
}

func NewDispatcher(cfg config.PushConfig) *Dispatcher {
	return &Dispatcher{
		gatewayURL: cfg.GatewayURL,
		authToken:  cfg.AuthToken,
		http:       &http.Client{},
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, n contracts.Notification) error {
	if d.gatewayURL == "" {
		return nil // gateway not configured; drop silently
	}
	body, _ := json.Marshal(n)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.gatewayURL+"/notifications", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.authToken)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push gateway status %d", resp.StatusCode)
	}
	return nil
}
