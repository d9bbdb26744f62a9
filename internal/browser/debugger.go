package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/lance13c/uimap/internal/logging"
)

type versionInfo struct {
	Browser              string `json:"Browser"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// ResolveDebuggerURL turns a DevTools HTTP endpoint (http://127.0.0.1:9222)
// into the browser websocket URL and checks the socket answers. A ws:// URL
// is only checked.
func ResolveDebuggerURL(ctx context.Context, endpoint string) (string, error) {
	wsURL := endpoint
	if !strings.HasPrefix(endpoint, "ws://") && !strings.HasPrefix(endpoint, "wss://") {
		info, err := fetchVersion(ctx, endpoint)
		if err != nil {
			return "", err
		}
		if info.WebSocketDebuggerURL == "" {
			return "", fmt.Errorf("DevTools endpoint %s did not report a websocket URL", endpoint)
		}
		wsURL = info.WebSocketDebuggerURL
	}

	product, err := ProbeDebugger(ctx, wsURL)
	if err != nil {
		return "", err
	}
	logging.Info("DevTools endpoint ready%s", logging.KV("product", product, "ws", wsURL))
	return wsURL, nil
}

func fetchVersion(ctx context.Context, endpoint string) (*versionInfo, error) {
	client := newHTTPClient(3, 5*time.Second)
	url := strings.TrimRight(endpoint, "/") + "/json/version"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach DevTools at %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("DevTools at %s answered %d", endpoint, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, err
	}
	var info versionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse DevTools version: %w", err)
	}
	return &info, nil
}

// ProbeDebugger dials a DevTools websocket and returns the browser product
// reported by Browser.getVersion
func ProbeDebugger(ctx context.Context, wsURL string) (string, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, httpResp, err := dialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		if httpResp != nil {
			return "", fmt.Errorf("failed to connect to WebSocket %s (status %d): %w", wsURL, httpResp.StatusCode, err)
		}
		return "", fmt.Errorf("failed to connect to WebSocket %s: %w", wsURL, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(10 * time.Second)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)

	if err := conn.WriteJSON(map[string]interface{}{"id": 1, "method": "Browser.getVersion"}); err != nil {
		return "", fmt.Errorf("failed to send Browser.getVersion: %w", err)
	}
	for {
		var resp struct {
			ID     int `json:"id"`
			Result struct {
				Product string `json:"product"`
			} `json:"result"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := conn.ReadJSON(&resp); err != nil {
			return "", fmt.Errorf("failed to read Browser.getVersion: %w", err)
		}
		if resp.ID != 1 {
			continue
		}
		if resp.Error != nil {
			return "", fmt.Errorf("Browser.getVersion: %s", resp.Error.Message)
		}
		return resp.Result.Product, nil
	}
}
