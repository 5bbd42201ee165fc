package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultServer is the public ntfy instance.
const DefaultServer = "https://ntfy.sh"

// Ntfy publishes messages to an ntfy server using its JSON publishing API.
// A target is either a bare topic or a full topic URL (https://host/topic).
type Ntfy struct {
	Server string
	Client *http.Client
	Logger *slog.Logger
}

// NewNtfy returns a sink for server with the given request timeout.
func NewNtfy(server string, timeout time.Duration, logger *slog.Logger) *Ntfy {
	if server == "" {
		server = DefaultServer
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ntfy{
		Server: strings.TrimRight(server, "/"),
		Client: &http.Client{Timeout: timeout},
		Logger: logger,
	}
}

func (n *Ntfy) Send(ctx context.Context, target string, msg Message) error {
	server, topic := n.resolve(target)
	if topic == "" {
		return &DeliveryError{Target: target, Err: fmt.Errorf("empty topic")}
	}
	payload := msg.Payload
	payload.Topic = topic

	body, err := json.Marshal(payload)
	if err != nil {
		return &DeliveryError{Target: target, Err: fmt.Errorf("failed to encode payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Target: target, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return &DeliveryError{Target: target, Err: fmt.Errorf("failed to publish: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &DeliveryError{
			Target:     target,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("ntfy rejected message: %s", strings.TrimSpace(string(detail))),
		}
	}
	n.Logger.Debug("published notification", "server", server, "topic", topic)
	return nil
}

func (n *Ntfy) resolve(target string) (server string, topic string) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		u, err := url.Parse(target)
		if err == nil {
			return u.Scheme + "://" + u.Host, strings.Trim(u.Path, "/")
		}
	}
	return n.Server, strings.Trim(target, "/")
}
