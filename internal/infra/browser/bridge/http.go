package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/browser"
)

// Bridge JSON-RPC error codes with a fixed driver-level meaning.
const (
	codeItemGone     = -32001
	codeAuthRequired = -32002
	codeRateLimited  = -32003
)

// HTTPDriver talks JSON-RPC 2.0 to a browser bridge.
type HTTPDriver struct {
	endpoint    string
	profileName string
	client      *http.Client
	requestID   atomic.Int64
	monitor     *browser.Monitor
	log         *slog.Logger
}

// NewHTTP creates a driver for the bridge at endpoint. All operations carry
// the profile name so one bridge can serve several sites.
func NewHTTP(endpoint, profileName string, timeout time.Duration) *HTTPDriver {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPDriver{
		endpoint:    endpoint,
		profileName: profileName,
		client:      &http.Client{Timeout: timeout},
		monitor:     browser.NewMonitor(),
		log:         slog.Default().With("component", "browser", "driver", "bridge-http", "profile", profileName),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// call performs one JSON-RPC exchange and maps transport-level pushback onto
// the driver sentinels.
func (d *HTTPDriver) call(ctx context.Context, op string, params map[string]any) (json.RawMessage, error) {
	if params == nil {
		params = map[string]any{}
	}
	params["profile"] = d.profileName

	id := d.requestID.Add(1)
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "browser." + op,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := d.client.Do(req)
	d.monitor.RecordAction(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("bridge request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		d.monitor.RecordRateLimit()
		return nil, fmt.Errorf("%w: bridge returned 429", browser.ErrRateLimited)
	case http.StatusUnauthorized, http.StatusForbidden:
		d.monitor.RecordAuthFailure()
		return nil, fmt.Errorf("%w: bridge returned %d", browser.ErrAuthRequired, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, d.mapRPCError(rpcResp.Error)
	}
	if rpcResp.ID != id {
		return nil, fmt.Errorf("bridge response id mismatch: sent %d, got %d", id, rpcResp.ID)
	}
	return rpcResp.Result, nil
}

func (d *HTTPDriver) mapRPCError(e *rpcError) error {
	switch e.Code {
	case codeItemGone:
		return fmt.Errorf("%w: %s", browser.ErrItemGone, e.Message)
	case codeAuthRequired:
		d.monitor.RecordAuthFailure()
		return fmt.Errorf("%w: %s", browser.ErrAuthRequired, e.Message)
	case codeRateLimited:
		d.monitor.RecordRateLimit()
		return fmt.Errorf("%w: %s", browser.ErrRateLimited, e.Message)
	}
	if d.monitor.DetectThrottleMessage(e.Message) {
		d.monitor.RecordRateLimit()
		return fmt.Errorf("%w: %s", browser.ErrRateLimited, e.Message)
	}
	return fmt.Errorf("bridge error %d: %s", e.Code, e.Message)
}

// Probe implements browser.Driver.
func (d *HTTPDriver) Probe(ctx context.Context) (domain.ProbeSignal, error) {
	res, err := d.call(ctx, opProbe, nil)
	if err != nil {
		return domain.ProbeSignal{}, err
	}
	var payload map[string]any
	if err := json.Unmarshal(res, &payload); err != nil {
		return domain.ProbeSignal{}, fmt.Errorf("bad probe payload: %w", err)
	}
	return decodeProbe(payload), nil
}

// Perform implements browser.Driver.
func (d *HTTPDriver) Perform(ctx context.Context, action domain.Action) error {
	_, err := d.call(ctx, opPerform, map[string]any{"action": actionPayload(action)})
	return err
}

// Search implements browser.Driver.
func (d *HTTPDriver) Search(ctx context.Context, keyword string) error {
	_, err := d.call(ctx, opSearch, map[string]any{"keyword": keyword})
	return err
}

// ListItems implements browser.Driver.
func (d *HTTPDriver) ListItems(ctx context.Context, max int) ([]domain.ItemRef, error) {
	res, err := d.call(ctx, opListItems, map[string]any{"max": max})
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(res, &payload); err != nil {
		return nil, fmt.Errorf("bad list payload: %w", err)
	}
	return browser.DecodeItemRefs(payload["items"], max)
}

// OpenItem implements browser.Driver.
func (d *HTTPDriver) OpenItem(ctx context.Context, ref domain.ItemRef) error {
	_, err := d.call(ctx, opOpenItem, map[string]any{
		"id":  ref.ListID,
		"url": ref.URL,
	})
	return err
}

// ExtractDetail implements browser.Driver.
func (d *HTTPDriver) ExtractDetail(ctx context.Context) (*domain.Record, error) {
	res, err := d.call(ctx, opExtractDetail, nil)
	if err != nil {
		return nil, err
	}
	var payload any
	if err := json.Unmarshal(res, &payload); err != nil {
		return nil, fmt.Errorf("bad detail payload: %w", err)
	}
	return browser.DecodeRecord(payload)
}

// Screenshot implements browser.Driver. The bridge returns PNG bytes base64
// encoded in the png field.
func (d *HTTPDriver) Screenshot(ctx context.Context) ([]byte, error) {
	res, err := d.call(ctx, opScreenshot, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		PNG string `json:"png"`
	}
	if err := json.Unmarshal(res, &payload); err != nil {
		return nil, fmt.Errorf("bad screenshot payload: %w", err)
	}
	return base64.StdEncoding.DecodeString(payload.PNG)
}

// DOMSnapshot implements browser.Driver.
func (d *HTTPDriver) DOMSnapshot(ctx context.Context) (string, error) {
	res, err := d.call(ctx, opDOMSnapshot, nil)
	if err != nil {
		return "", err
	}
	var payload struct {
		HTML string `json:"html"`
	}
	if err := json.Unmarshal(res, &payload); err != nil {
		return "", fmt.Errorf("bad dom payload: %w", err)
	}
	return payload.HTML, nil
}

// Name implements browser.Driver.
func (d *HTTPDriver) Name() string {
	return "bridge-http:" + d.profileName
}

// MonitorStats implements browser.Monitored.
func (d *HTTPDriver) MonitorStats() browser.MonitorStats {
	return d.monitor.Stats()
}

// Close implements browser.Driver.
func (d *HTTPDriver) Close() error {
	d.client.CloseIdleConnections()
	return nil
}
