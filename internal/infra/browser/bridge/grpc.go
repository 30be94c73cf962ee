package bridge

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/browser"
)

const grpcServicePrefix = "/harvester.bridge.v1.Bridge/"

// GRPCDriver talks to a browser bridge over gRPC. Payloads are structpb
// structs so the bridge contract stays schema-light; failures arrive as
// status errors, which the classifier maps by code.
type GRPCDriver struct {
	conn        grpc.ClientConnInterface
	ownedConn   *grpc.ClientConn // non-nil when we dialed it
	profileName string
	monitor     *browser.Monitor
	log         *slog.Logger
}

// NewGRPC dials the bridge endpoint. https and grpcs schemes get TLS,
// anything else dials insecure.
func NewGRPC(endpoint, profileName string) (*GRPCDriver, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("bad bridge endpoint %q: %w", endpoint, err)
	}
	target := u.Host
	if target == "" {
		target = endpoint
	}

	var creds credentials.TransportCredentials
	if u.Scheme == "https" || u.Scheme == "grpcs" {
		creds = credentials.NewTLS(&tls.Config{})
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge connection: %w", err)
	}

	d := NewGRPCWithConn(conn, profileName)
	d.ownedConn = conn
	return d, nil
}

// NewGRPCWithConn wraps an existing connection. Tests and custom transports
// inject a ConnShim here.
func NewGRPCWithConn(conn grpc.ClientConnInterface, profileName string) *GRPCDriver {
	return &GRPCDriver{
		conn:        conn,
		profileName: profileName,
		monitor:     browser.NewMonitor(),
		log:         slog.Default().With("component", "browser", "driver", "bridge-grpc", "profile", profileName),
	}
}

// grpcMethod maps an op name onto its service method path.
func grpcMethod(op string) string {
	return grpcServicePrefix + strings.ToUpper(op[:1]) + op[1:]
}

// invoke performs one bridge call. Status errors pass through untouched so
// the classifier sees the original codes; the monitor still records pushback.
func (d *GRPCDriver) invoke(ctx context.Context, op string, fields map[string]any) (map[string]any, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["profile"] = d.profileName

	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp := &structpb.Struct{}

	start := time.Now()
	err = d.conn.Invoke(ctx, grpcMethod(op), req, resp)
	d.monitor.RecordAction(time.Since(start))
	if err != nil {
		if s, ok := status.FromError(err); ok {
			switch s.Code() {
			case codes.ResourceExhausted:
				d.monitor.RecordRateLimit()
			case codes.Unauthenticated, codes.PermissionDenied:
				d.monitor.RecordAuthFailure()
			}
		}
		return nil, err
	}
	return resp.AsMap(), nil
}

// Probe implements browser.Driver.
func (d *GRPCDriver) Probe(ctx context.Context) (domain.ProbeSignal, error) {
	m, err := d.invoke(ctx, opProbe, nil)
	if err != nil {
		return domain.ProbeSignal{}, err
	}
	return decodeProbe(m), nil
}

// Perform implements browser.Driver.
func (d *GRPCDriver) Perform(ctx context.Context, action domain.Action) error {
	_, err := d.invoke(ctx, opPerform, map[string]any{"action": actionPayload(action)})
	return err
}

// Search implements browser.Driver.
func (d *GRPCDriver) Search(ctx context.Context, keyword string) error {
	_, err := d.invoke(ctx, opSearch, map[string]any{"keyword": keyword})
	return err
}

// ListItems implements browser.Driver.
func (d *GRPCDriver) ListItems(ctx context.Context, max int) ([]domain.ItemRef, error) {
	m, err := d.invoke(ctx, opListItems, map[string]any{"max": max})
	if err != nil {
		return nil, err
	}
	return browser.DecodeItemRefs(m["items"], max)
}

// OpenItem implements browser.Driver.
func (d *GRPCDriver) OpenItem(ctx context.Context, ref domain.ItemRef) error {
	_, err := d.invoke(ctx, opOpenItem, map[string]any{
		"id":  ref.ListID,
		"url": ref.URL,
	})
	return err
}

// ExtractDetail implements browser.Driver.
func (d *GRPCDriver) ExtractDetail(ctx context.Context) (*domain.Record, error) {
	m, err := d.invoke(ctx, opExtractDetail, nil)
	if err != nil {
		return nil, err
	}
	return browser.DecodeRecord(map[string]any(m))
}

// Screenshot implements browser.Driver.
func (d *GRPCDriver) Screenshot(ctx context.Context) ([]byte, error) {
	m, err := d.invoke(ctx, opScreenshot, nil)
	if err != nil {
		return nil, err
	}
	png, _ := m["png"].(string)
	return base64.StdEncoding.DecodeString(png)
}

// DOMSnapshot implements browser.Driver.
func (d *GRPCDriver) DOMSnapshot(ctx context.Context) (string, error) {
	m, err := d.invoke(ctx, opDOMSnapshot, nil)
	if err != nil {
		return "", err
	}
	html, _ := m["html"].(string)
	return html, nil
}

// Name implements browser.Driver.
func (d *GRPCDriver) Name() string {
	return "bridge-grpc:" + d.profileName
}

// MonitorStats implements browser.Monitored.
func (d *GRPCDriver) MonitorStats() browser.MonitorStats {
	return d.monitor.Stats()
}

// Close implements browser.Driver.
func (d *GRPCDriver) Close() error {
	if d.ownedConn != nil {
		return d.ownedConn.Close()
	}
	return nil
}

// ============================================================================
// ConnShim
// ============================================================================

// InvokeFunc is the unary-call shape ConnShim adapts.
type InvokeFunc func(ctx context.Context, method string, args, reply any) error

// ConnShim adapts a plain function to grpc.ClientConnInterface so tests and
// non-gRPC transports can stand in for a real connection.
type ConnShim struct {
	Fn InvokeFunc
}

func (s ConnShim) Invoke(ctx context.Context, method string, args, reply any, _ ...grpc.CallOption) error {
	return s.Fn(ctx, method, args, reply)
}

func (s ConnShim) NewStream(ctx context.Context, desc *grpc.StreamDesc, method string, _ ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, status.Error(codes.Unimplemented, "streaming not supported")
}
