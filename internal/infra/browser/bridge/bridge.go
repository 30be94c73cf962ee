// Package bridge implements browser.Driver against a remote browser-control
// service. The bridge owns the real browser and the site profile's selectors;
// these drivers only speak the operation protocol, so a farm of browsers can
// sit behind one endpoint. Two transports are provided: JSON-RPC over HTTP
// and gRPC with struct payloads.
package bridge

import (
	"github.com/vietddude/harvester/internal/core/domain"
)

// Bridge operation names, shared by both transports.
const (
	opProbe         = "probe"
	opPerform       = "perform"
	opSearch        = "search"
	opListItems     = "listItems"
	opOpenItem      = "openItem"
	opExtractDetail = "extractDetail"
	opScreenshot    = "screenshot"
	opDOMSnapshot   = "domSnapshot"
)

// decodeProbe converts a probe payload {url, title, markers} into a signal.
func decodeProbe(m map[string]any) domain.ProbeSignal {
	sig := domain.ProbeSignal{}
	if s, ok := m["url"].(string); ok {
		sig.URL = s
	}
	if s, ok := m["title"].(string); ok {
		sig.Title = s
	}
	if markers, ok := m["markers"].([]any); ok {
		for _, v := range markers {
			if s, ok := v.(string); ok {
				sig.Markers = append(sig.Markers, s)
			}
		}
	}
	return sig
}

// actionPayload flattens an action for the wire.
func actionPayload(a domain.Action) map[string]any {
	return map[string]any{
		"kind":       string(a.Kind),
		"target":     a.Target,
		"value":      a.Value,
		"timeout_ms": a.TimeoutMs,
	}
}
