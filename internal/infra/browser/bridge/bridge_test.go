package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/browser"
)

func decodeRPC(t *testing.T, r *http.Request) rpcRequest {
	t.Helper()
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("failed to decode request: %v", err)
	}
	return req
}

func writeRPC(t *testing.T, w http.ResponseWriter, id int64, result any, rpcErr *rpcError) {
	t.Helper()
	resp := map[string]any{"jsonrpc": "2.0", "id": id}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Errorf("failed to write response: %v", err)
	}
}

func TestHTTPDriver_Probe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRPC(t, r)
		if req.Method != "browser.probe" {
			t.Errorf("expected method browser.probe, got %s", req.Method)
		}
		params, _ := req.Params.(map[string]any)
		if params["profile"] != "forumx" {
			t.Errorf("expected profile forumx, got %v", params["profile"])
		}
		writeRPC(t, w, req.ID, map[string]any{
			"url":     "https://forumx.test/search?q=go",
			"title":   "Search results",
			"markers": []string{"#result-list", ".pagination"},
		}, nil)
	}))
	defer server.Close()

	d := NewHTTP(server.URL, "forumx", 5*time.Second)
	defer d.Close()

	sig, err := d.Probe(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.URL != "https://forumx.test/search?q=go" {
		t.Errorf("wrong url: %s", sig.URL)
	}
	if sig.Title != "Search results" {
		t.Errorf("wrong title: %s", sig.Title)
	}
	if len(sig.Markers) != 2 || sig.Markers[0] != "#result-list" {
		t.Errorf("wrong markers: %v", sig.Markers)
	}
}

func TestHTTPDriver_ListAndExtract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRPC(t, r)
		switch req.Method {
		case "browser.listItems":
			params, _ := req.Params.(map[string]any)
			if max, ok := params["max"].(float64); !ok || max != 10 {
				t.Errorf("expected max=10, got %v", params["max"])
			}
			writeRPC(t, w, req.ID, map[string]any{
				"items": []any{
					map[string]any{"id": "t-1", "url": "/threads/1", "title": "First"},
					map[string]any{"id": "t-2", "url": "/threads/2", "title": "Second"},
				},
			}, nil)
		case "browser.extractDetail":
			writeRPC(t, w, req.ID, map[string]any{
				"id":     "t-1",
				"title":  "First",
				"body":   "hello world",
				"author": "alice",
			}, nil)
		default:
			t.Errorf("unexpected method %s", req.Method)
			writeRPC(t, w, req.ID, nil, &rpcError{Code: -32601, Message: "method not found"})
		}
	}))
	defer server.Close()

	d := NewHTTP(server.URL, "forumx", 5*time.Second)
	defer d.Close()

	items, err := d.ListItems(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ListID != "t-1" || items[1].URL != "/threads/2" {
		t.Errorf("wrong items: %+v", items)
	}

	rec, err := d.ExtractDetail(context.Background())
	if err != nil {
		t.Fatalf("ExtractDetail failed: %v", err)
	}
	if rec.ItemID != "t-1" || rec.Body != "hello world" || rec.Author != "alice" {
		t.Errorf("wrong record: %+v", rec)
	}
}

func TestHTTPDriver_Screenshot(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRPC(t, r)
		writeRPC(t, w, req.ID, map[string]any{"png": base64.StdEncoding.EncodeToString(raw)}, nil)
	}))
	defer server.Close()

	d := NewHTTP(server.URL, "forumx", 5*time.Second)
	defer d.Close()

	png, err := d.Screenshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(png) != string(raw) {
		t.Errorf("screenshot bytes mangled: %v", png)
	}
}

func TestHTTPDriver_ErrorMapping(t *testing.T) {
	tests := []struct {
		name         string
		httpStatus   int // 0 means respond with the rpc error instead
		rpcErr       *rpcError
		wantSentinel error // nil means a generic error is expected
		wantRateHits int
		wantAuthFail int
	}{
		{
			name:         "http 429",
			httpStatus:   http.StatusTooManyRequests,
			wantSentinel: browser.ErrRateLimited,
			wantRateHits: 1,
		},
		{
			name:         "http 403",
			httpStatus:   http.StatusForbidden,
			wantSentinel: browser.ErrAuthRequired,
			wantAuthFail: 1,
		},
		{
			name:         "rpc item gone",
			rpcErr:       &rpcError{Code: codeItemGone, Message: "thread deleted"},
			wantSentinel: browser.ErrItemGone,
		},
		{
			name:         "rpc auth required",
			rpcErr:       &rpcError{Code: codeAuthRequired, Message: "session expired"},
			wantSentinel: browser.ErrAuthRequired,
			wantAuthFail: 1,
		},
		{
			name:         "rpc rate limited",
			rpcErr:       &rpcError{Code: codeRateLimited, Message: "back off"},
			wantSentinel: browser.ErrRateLimited,
			wantRateHits: 1,
		},
		{
			name:         "rpc throttle phrase",
			rpcErr:       &rpcError{Code: -32000, Message: "Too many requests, please retry"},
			wantSentinel: browser.ErrRateLimited,
			wantRateHits: 1,
		},
		{
			name:   "rpc unknown code",
			rpcErr: &rpcError{Code: -32000, Message: "boom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				req := decodeRPC(t, r)
				if tt.httpStatus != 0 {
					http.Error(w, "denied", tt.httpStatus)
					return
				}
				writeRPC(t, w, req.ID, nil, tt.rpcErr)
			}))
			defer server.Close()

			d := NewHTTP(server.URL, "forumx", 5*time.Second)
			defer d.Close()

			err := d.Perform(context.Background(), domain.Action{Kind: domain.ActionClick, Target: "@next"})
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if tt.wantSentinel != nil {
				if !errors.Is(err, tt.wantSentinel) {
					t.Errorf("expected %v, got %v", tt.wantSentinel, err)
				}
			} else {
				for _, s := range []error{browser.ErrRateLimited, browser.ErrAuthRequired, browser.ErrItemGone} {
					if errors.Is(err, s) {
						t.Errorf("generic error should not match %v: %v", s, err)
					}
				}
			}

			stats := d.MonitorStats()
			if stats.RateLimitHits != tt.wantRateHits {
				t.Errorf("expected %d rate limit hits, got %d", tt.wantRateHits, stats.RateLimitHits)
			}
			if stats.AuthFailures != tt.wantAuthFail {
				t.Errorf("expected %d auth failures, got %d", tt.wantAuthFail, stats.AuthFailures)
			}
		})
	}
}

func TestHTTPDriver_IDMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = decodeRPC(t, r)
		writeRPC(t, w, 9999, map[string]any{}, nil)
	}))
	defer server.Close()

	d := NewHTTP(server.URL, "forumx", 5*time.Second)
	defer d.Close()

	if err := d.Search(context.Background(), "golang"); err == nil {
		t.Fatal("expected id mismatch error, got nil")
	}
}

// ============================================================================
// gRPC transport
// ============================================================================

// replyStruct fills a reply message from plain fields.
func replyStruct(t *testing.T, reply any, fields map[string]any) {
	t.Helper()
	st, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("failed to build reply: %v", err)
	}
	msg, ok := reply.(proto.Message)
	if !ok {
		t.Fatalf("reply is not a proto message: %T", reply)
	}
	proto.Merge(msg, st)
}

func TestGRPCDriver_Probe(t *testing.T) {
	var gotMethod string
	shim := ConnShim{Fn: func(ctx context.Context, method string, args, reply any) error {
		gotMethod = method
		req := args.(*structpb.Struct).AsMap()
		if req["profile"] != "forumx" {
			t.Errorf("expected profile forumx, got %v", req["profile"])
		}
		replyStruct(t, reply, map[string]any{
			"url":     "https://forumx.test/",
			"title":   "ForumX",
			"markers": []any{"#home-feed"},
		})
		return nil
	}}

	d := NewGRPCWithConn(shim, "forumx")
	defer d.Close()

	sig, err := d.Probe(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != "/harvester.bridge.v1.Bridge/Probe" {
		t.Errorf("wrong method: %s", gotMethod)
	}
	if sig.URL != "https://forumx.test/" || len(sig.Markers) != 1 {
		t.Errorf("wrong signal: %+v", sig)
	}
}

func TestGRPCDriver_ListItems(t *testing.T) {
	shim := ConnShim{Fn: func(ctx context.Context, method string, args, reply any) error {
		if method != "/harvester.bridge.v1.Bridge/ListItems" {
			t.Errorf("wrong method: %s", method)
		}
		replyStruct(t, reply, map[string]any{
			"items": []any{
				map[string]any{"id": "p-9", "url": "/p/9"},
				map[string]any{"url": "/p/10"}, // no id, dropped
			},
		})
		return nil
	}}

	d := NewGRPCWithConn(shim, "forumx")
	defer d.Close()

	items, err := d.ListItems(context.Background(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].ListID != "p-9" {
		t.Errorf("wrong items: %+v", items)
	}
}

func TestGRPCDriver_ExtractDetail_Partial(t *testing.T) {
	shim := ConnShim{Fn: func(ctx context.Context, method string, args, reply any) error {
		replyStruct(t, reply, map[string]any{
			"id":      "p-9",
			"title":   "Post nine",
			"body":    "body text",
			"partial": "comments timed out",
		})
		return nil
	}}

	d := NewGRPCWithConn(shim, "forumx")
	defer d.Close()

	rec, err := d.ExtractDetail(context.Background())
	if !errors.Is(err, browser.ErrPartialExtract) {
		t.Fatalf("expected ErrPartialExtract, got %v", err)
	}
	if rec == nil || rec.ItemID != "p-9" {
		t.Errorf("partial extract should still return the record, got %+v", rec)
	}
}

func TestGRPCDriver_StatusPassThrough(t *testing.T) {
	tests := []struct {
		name         string
		code         codes.Code
		wantRateHits int
		wantAuthFail int
	}{
		{name: "resource exhausted", code: codes.ResourceExhausted, wantRateHits: 1},
		{name: "unauthenticated", code: codes.Unauthenticated, wantAuthFail: 1},
		{name: "unavailable", code: codes.Unavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shim := ConnShim{Fn: func(ctx context.Context, method string, args, reply any) error {
				return status.Error(tt.code, "upstream says no")
			}}

			d := NewGRPCWithConn(shim, "forumx")
			defer d.Close()

			err := d.Search(context.Background(), "golang")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			// The original status code must survive for the classifier.
			s, ok := status.FromError(err)
			if !ok || s.Code() != tt.code {
				t.Errorf("expected status code %v, got %v", tt.code, err)
			}

			stats := d.MonitorStats()
			if stats.RateLimitHits != tt.wantRateHits {
				t.Errorf("expected %d rate limit hits, got %d", tt.wantRateHits, stats.RateLimitHits)
			}
			if stats.AuthFailures != tt.wantAuthFail {
				t.Errorf("expected %d auth failures, got %d", tt.wantAuthFail, stats.AuthFailures)
			}
		})
	}
}
