package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ipede/uma-auth-service/internal/domain"
	"go.uber.org/zap"
)

// HTTPNotifier delivers CIBA ping callbacks over HTTP. The callback body
// carries only the auth_req_id; the client fetches the outcome from the
// token endpoint.
type HTTPNotifier struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPNotifier creates an HTTP notifier
func NewHTTPNotifier(logger *zap.Logger) *HTTPNotifier {
	return &HTTPNotifier{
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// NotifyAuthResult posts the ping callback to the client's notification
// endpoint, authorized with the client's registered notification token
func (n *HTTPNotifier) NotifyAuthResult(ctx context.Context, client *domain.Client, authReqID string) error {
	body, err := json.Marshal(map[string]string{"auth_req_id": authReqID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.NotificationEndpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+client.NotificationToken)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	n.logger.Debug("Backchannel notification delivered",
		zap.String("client_id", client.ID),
		zap.String("auth_req_id", authReqID))
	return nil
}
