package driver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// fakeServer speaks just enough of the WebDriver wire protocol for the
// factory: session create, element find, click, session delete.
type fakeServer struct {
	findResponses []int // per find call, last entry repeats; 200 serves an element
	findCalls     int
	clicks        int
	deletes       int
}

func (s *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /session", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"value": map[string]any{"sessionId": "sess-1"},
		})
	})
	mux.HandleFunc("POST /session/sess-1/element", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		if len(s.findResponses) > 0 {
			idx := min(s.findCalls, len(s.findResponses)-1)
			status = s.findResponses[idx]
		}
		s.findCalls++
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"value": map[string]string{"element-6066-11e4-a52e-4f735466cecf": "elem-1"},
		})
	})
	mux.HandleFunc("POST /session/sess-1/element/elem-1/click", func(w http.ResponseWriter, r *http.Request) {
		s.clicks++
		json.NewEncoder(w).Encode(map[string]any{"value": nil})
	})
	mux.HandleFunc("DELETE /session/sess-1", func(w http.ResponseWriter, r *http.Request) {
		s.deletes++
		json.NewEncoder(w).Encode(map[string]any{"value": nil})
	})
	return mux
}

// mustTestServer starts a test server or skips if the sandbox disallows listening.
func mustTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("test server unavailable in sandbox: %v", r)
		}
	}()
	return httptest.NewServer(handler)
}

func testSelectors() map[Intent]Selector {
	return map[Intent]Selector{
		IntentPurchaseEntry: {Using: "accessibility id", Value: "buy-now"},
	}
}

func TestCreateSessionAndActivate(t *testing.T) {
	fake := &fakeServer{}
	srv := mustTestServer(t, fake.handler())
	if srv == nil {
		return
	}
	defer srv.Close()

	factory := NewHTTPFactory(testSelectors())
	session, err := factory.CreateSession(context.Background(), srv.URL, map[string]any{"platformName": "Android"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	defer session.Close()

	ok, err := session.LocateAndActivate(context.Background(), IntentPurchaseEntry, time.Second)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !ok {
		t.Fatal("expected control to be activated")
	}
	if fake.clicks != 1 {
		t.Fatalf("expected one click, got %d", fake.clicks)
	}
}

func TestLocateRetriesWhileNotFound(t *testing.T) {
	fake := &fakeServer{findResponses: []int{http.StatusNotFound, http.StatusNotFound, http.StatusOK}}
	srv := mustTestServer(t, fake.handler())
	if srv == nil {
		return
	}
	defer srv.Close()

	factory := NewHTTPFactory(testSelectors())
	factory.PollInterval = time.Millisecond
	session, err := factory.CreateSession(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	defer session.Close()

	ok, err := session.LocateAndActivate(context.Background(), IntentPurchaseEntry, time.Second)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !ok {
		t.Fatal("expected control to appear on the third poll")
	}
	if fake.findCalls != 3 {
		t.Fatalf("expected 3 find calls, got %d", fake.findCalls)
	}
}

func TestLocateTimesOutQuietly(t *testing.T) {
	fake := &fakeServer{findResponses: []int{http.StatusNotFound}}
	srv := mustTestServer(t, fake.handler())
	if srv == nil {
		return
	}
	defer srv.Close()

	factory := NewHTTPFactory(testSelectors())
	factory.PollInterval = time.Millisecond
	session, err := factory.CreateSession(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	defer session.Close()

	ok, err := session.LocateAndActivate(context.Background(), IntentPurchaseEntry, 3*time.Millisecond)
	if err != nil {
		t.Fatalf("timeout is not an error: %v", err)
	}
	if ok {
		t.Fatal("expected timeout to report not found")
	}
}

func TestLocateUnboundIntent(t *testing.T) {
	fake := &fakeServer{}
	srv := mustTestServer(t, fake.handler())
	if srv == nil {
		return
	}
	defer srv.Close()

	factory := NewHTTPFactory(nil)
	session, err := factory.CreateSession(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	defer session.Close()

	if _, err := session.LocateAndActivate(context.Background(), IntentConfirm, time.Second); err == nil {
		t.Fatal("expected an error for an unbound intent")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	fake := &fakeServer{}
	srv := mustTestServer(t, fake.handler())
	if srv == nil {
		return
	}
	defer srv.Close()

	factory := NewHTTPFactory(testSelectors())
	session, err := factory.CreateSession(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if err := session.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if fake.deletes != 1 {
		t.Fatalf("expected a single session delete, got %d", fake.deletes)
	}
}

func TestCreateSessionConnectionError(t *testing.T) {
	factory := NewHTTPFactory(testSelectors())
	factory.Client.Timeout = 50 * time.Millisecond

	_, err := factory.CreateSession(context.Background(), "http://127.0.0.1:1", nil)
	if err == nil {
		t.Fatal("expected connection failure")
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %T", err)
	}
	if !strings.Contains(connErr.Error(), "http://127.0.0.1:1") {
		t.Fatalf("error must name the endpoint: %v", connErr)
	}
}
