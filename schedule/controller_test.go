package schedule

import (
	"context"
	"testing"
	"time"
)

// fakeClock advances simulated time by exactly the requested sleep and
// records every sleep duration.
type fakeClock struct {
	current time.Time
	sleeps  []time.Duration
}

func (c *fakeClock) now() time.Time { return c.current }

func (c *fakeClock) sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.current = c.current.Add(d)
}

type fakeCheck struct {
	name   string
	result bool
	probes int
}

func (c *fakeCheck) Name() string { return c.name }

func (c *fakeCheck) Probe(ctx context.Context) bool {
	c.probes++
	return c.result
}

func newTestController(clock *fakeClock, checks ...HealthCheck) *Controller {
	ctrl := NewController(nil, checks...)
	ctrl.now = clock.now
	ctrl.sleep = clock.sleep
	return ctrl
}

func TestWaitUntilPastTargetReturnsImmediately(t *testing.T) {
	clock := &fakeClock{current: time.Date(2026, 5, 20, 12, 0, 30, 0, time.UTC)}
	ctrl := newTestController(clock)

	target := clock.current.Add(-30 * time.Second)
	ctrl.WaitUntil(context.Background(), target, 0)

	if len(clock.sleeps) != 0 {
		t.Fatalf("past target must not sleep, got %v", clock.sleeps)
	}
}

func TestWaitUntilConvergesOnTarget(t *testing.T) {
	clock := &fakeClock{current: time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)}
	ctrl := newTestController(clock)

	target := clock.current.Add(10 * time.Second)
	ctrl.WaitUntil(context.Background(), target, 0)

	if clock.current.Before(target) {
		t.Fatalf("wait ended before target: %v < %v", clock.current, target)
	}
	if overshoot := clock.current.Sub(target); overshoot > 10*time.Millisecond {
		t.Fatalf("overshoot too large: %v", overshoot)
	}
	if len(clock.sleeps) == 0 || clock.sleeps[0] != 9*time.Second {
		t.Fatalf("first sleep must leave a one second margin, got %v", clock.sleeps)
	}
	for _, d := range clock.sleeps[1:] {
		if d != time.Millisecond {
			t.Fatalf("tail sleeps must be one millisecond, got %v", clock.sleeps)
		}
	}
}

func TestWaitUntilRunsWarmupChecks(t *testing.T) {
	clock := &fakeClock{current: time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)}
	endpoint := &fakeCheck{name: "automation-endpoint", result: true}
	device := &fakeCheck{name: "device-ready", result: false}
	ctrl := newTestController(clock, endpoint, device)

	target := clock.current.Add(5 * time.Minute)
	ctrl.WaitUntil(context.Background(), target, 30*time.Second)

	if endpoint.probes != 1 || device.probes != 1 {
		t.Fatalf("each check must probe once, got %d and %d", endpoint.probes, device.probes)
	}
	if clock.sleeps[0] != 5*time.Minute-30*time.Second {
		t.Fatalf("staged sleep must stop at the warmup window, got %v", clock.sleeps[0])
	}
	if clock.current.Before(target) {
		t.Fatalf("wait ended before target")
	}
}

func TestWaitUntilWarmupLargerThanRemaining(t *testing.T) {
	clock := &fakeClock{current: time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)}
	check := &fakeCheck{name: "device-ready", result: true}
	ctrl := newTestController(clock, check)

	target := clock.current.Add(10 * time.Second)
	ctrl.WaitUntil(context.Background(), target, time.Minute)

	if check.probes != 1 {
		t.Fatalf("checks still run when already inside the warmup window, got %d probes", check.probes)
	}
	if clock.current.Before(target) {
		t.Fatalf("wait ended before target")
	}
}

func TestWaitUntilHonorsCancellation(t *testing.T) {
	clock := &fakeClock{current: time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)}
	ctrl := newTestController(clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	target := clock.current.Add(time.Hour)
	ctrl.WaitUntil(ctx, target, 0)

	if len(clock.sleeps) != 0 {
		t.Fatalf("canceled wait must not sleep, got %v", clock.sleeps)
	}
}

func TestParseStartAt(t *testing.T) {
	cases := []struct {
		text string
		want time.Time
	}{
		{"2026-05-20T12:00:00Z", time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)},
		{"2026-05-20T12:00:00+08:00", time.Date(2026, 5, 20, 12, 0, 0, 0, time.FixedZone("", 8*3600))},
		{"2026-05-20 12:00:00", time.Date(2026, 5, 20, 12, 0, 0, 0, time.Local)},
		{"2026-05-20T12:00:00", time.Date(2026, 5, 20, 12, 0, 0, 0, time.Local)},
		{"  2026-05-20 12:00:00  ", time.Date(2026, 5, 20, 12, 0, 0, 0, time.Local)},
	}
	for _, tc := range cases {
		got, err := ParseStartAt(tc.text)
		if err != nil {
			t.Errorf("ParseStartAt(%q): %v", tc.text, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("ParseStartAt(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestParseStartAtRejectsGarbage(t *testing.T) {
	for _, text := range []string{"", "   ", "tomorrow", "12:00:00", "2026/05/20 12:00:00"} {
		if _, err := ParseStartAt(text); err == nil {
			t.Errorf("ParseStartAt(%q) must fail", text)
		}
	}
}
