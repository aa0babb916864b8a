package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Selector binds a workflow intent to a concrete locator strategy. The
// bindings are supplied by the caller (page structure is target-specific
// and deliberately not part of this module).
type Selector struct {
	Using string `json:"using"`
	Value string `json:"value"`
}

// HTTPFactory creates sessions over the W3C WebDriver wire protocol,
// which Appium-compatible servers speak as well.
type HTTPFactory struct {
	Selectors    map[Intent]Selector
	PollInterval time.Duration
	Client       *http.Client
}

func NewHTTPFactory(selectors map[Intent]Selector) *HTTPFactory {
	return &HTTPFactory{
		Selectors:    selectors,
		PollInterval: 250 * time.Millisecond,
		Client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (f *HTTPFactory) CreateSession(ctx context.Context, endpoint string, capabilities map[string]any) (Session, error) {
	base := strings.TrimRight(endpoint, "/")
	payload := map[string]any{
		"capabilities": map[string]any{
			"alwaysMatch": capabilities,
		},
	}

	var created struct {
		Value struct {
			SessionID string `json:"sessionId"`
		} `json:"value"`
	}
	if err := f.post(ctx, base+"/session", payload, &created); err != nil {
		return nil, &ConnectionError{Endpoint: endpoint, Err: err}
	}
	if created.Value.SessionID == "" {
		return nil, &ConnectionError{Endpoint: endpoint, Err: fmt.Errorf("server returned no session id")}
	}

	poll := f.PollInterval
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &httpSession{
		factory:   f,
		base:      base,
		sessionID: created.Value.SessionID,
		poll:      poll,
	}, nil
}

type httpSession struct {
	factory   *HTTPFactory
	base      string
	sessionID string
	poll      time.Duration

	closeOnce sync.Once
	closeErr  error
}

func (s *httpSession) ApplySettings(ctx context.Context, options map[string]any) error {
	if len(options) == 0 {
		return nil
	}
	url := fmt.Sprintf("%s/session/%s/appium/settings", s.base, s.sessionID)
	return s.factory.post(ctx, url, map[string]any{"settings": options}, nil)
}

func (s *httpSession) LocateAndActivate(ctx context.Context, intent Intent, timeout time.Duration) (bool, error) {
	selector, ok := s.factory.Selectors[intent]
	if !ok {
		return false, fmt.Errorf("no selector bound for intent %q", intent)
	}

	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		elementID, err := s.findElement(ctx, selector)
		if err != nil {
			return false, err
		}
		if elementID != "" {
			url := fmt.Sprintf("%s/session/%s/element/%s/click", s.base, s.sessionID, elementID)
			if err := s.factory.post(ctx, url, map[string]any{}, nil); err != nil {
				return false, err
			}
			return true, nil
		}

		if !time.Now().Add(s.poll).Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(s.poll):
		}
	}
}

func (s *httpSession) findElement(ctx context.Context, selector Selector) (string, error) {
	url := fmt.Sprintf("%s/session/%s/element", s.base, s.sessionID)
	body, err := json.Marshal(selector)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.factory.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	// "no such element" is a 404 on the wire; it is an expected
	// polling outcome, not a transport fault.
	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	var found struct {
		Value map[string]string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&found); err != nil {
		return "", err
	}
	for _, id := range found.Value {
		if id != "" {
			return id, nil
		}
	}
	return "", nil
}

func (s *httpSession) Close() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		url := fmt.Sprintf("%s/session/%s", s.base, s.sessionID)
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
		if err != nil {
			s.closeErr = err
			return
		}
		resp, err := s.factory.Client.Do(req)
		if err != nil {
			s.closeErr = err
			return
		}
		resp.Body.Close()
	})
	return s.closeErr
}

func (f *HTTPFactory) post(ctx context.Context, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
