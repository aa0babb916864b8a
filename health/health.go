// Package health provides the best-effort warmup probes: automation
// endpoint reachability and attached device readiness. Every probe
// defaults to false on any error and never throws.
package health

import (
	"context"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

// CheckEndpoint probes the automation server status endpoint and
// reports whether it answered 200 within timeout.
func CheckEndpoint(ctx context.Context, serverURL string, timeout time.Duration) bool {
	if serverURL == "" {
		return false
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	statusURL := strings.TrimRight(serverURL, "/") + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// CheckDeviceReady reports whether at least one attached device is in
// the ready state according to `adb devices -l`.
func CheckDeviceReady(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "adb", "devices", "-l").Output()
	if err != nil {
		return false
	}
	for _, device := range ParseADBDevices(string(out)) {
		if device.Ready() {
			return true
		}
	}
	return false
}

// EndpointCheck probes the automation endpoint during the warmup
// window.
type EndpointCheck struct {
	ServerURL string
	Timeout   time.Duration
}

func (c EndpointCheck) Name() string { return "automation-endpoint" }

func (c EndpointCheck) Probe(ctx context.Context) bool {
	return CheckEndpoint(ctx, c.ServerURL, c.Timeout)
}

// DeviceCheck probes attached device readiness during the warmup
// window.
type DeviceCheck struct {
	Timeout time.Duration
}

func (c DeviceCheck) Name() string { return "device-ready" }

func (c DeviceCheck) Probe(ctx context.Context) bool {
	return CheckDeviceReady(ctx, c.Timeout)
}
