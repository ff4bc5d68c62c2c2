package pushapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func TestBackoffDoublesUpToCeiling(t *testing.T) {
	b := backoff{retries: 5, step: 250 * time.Millisecond, ceiling: time.Second, now: time.Now}
	want := []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second, time.Second}
	for i, expected := range want {
		if got := b.delay(i+1, nil); got != expected {
			t.Fatalf("retry %d: expected %s, got %s", i+1, expected, got)
		}
	}
}

func TestBackoffWaitsForRatelimitReset(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := backoff{retries: 3, step: 250 * time.Millisecond, ceiling: 5 * time.Second, now: func() time.Time { return now }}

	header := http.Header{}
	header.Set(headerRatelimitReset, strconv.FormatInt(now.Unix()+2, 10))
	if got := b.delay(1, header); got != 2*time.Second {
		t.Fatalf("expected wait until reset, got %s", got)
	}

	header.Set(headerRatelimitReset, strconv.FormatInt(now.Unix()+600, 10))
	if got := b.delay(1, header); got != 5*time.Second {
		t.Fatalf("expected reset wait capped at ceiling, got %s", got)
	}

	header.Set(headerRatelimitReset, strconv.FormatInt(now.Unix()-10, 10))
	if got := b.delay(3, header); got != 0 {
		t.Fatalf("expected no wait for a past reset, got %s", got)
	}

	header.Set(headerRatelimitReset, "soon")
	if got := b.delay(2, header); got != 500*time.Millisecond {
		t.Fatalf("expected step backoff for unparsable reset, got %s", got)
	}
}

func TestClientRetriesThrottledGetAfterReset(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("X-Ratelimit-Remaining", "0")
			w.Header().Set(headerRatelimitReset, strconv.FormatInt(time.Now().Unix(), 10))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":"ratelimited","message":"slow down"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"iden":"u1"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	user, err := client.Me(context.Background(), "token")
	if err != nil {
		t.Fatalf("expected throttled request to be retried, got %v", err)
	}
	if user.Iden != "u1" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("unexpected result user=%+v calls=%d", user, atomic.LoadInt32(&calls))
	}
}

func TestClientGivesUpAfterRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	client.backoff.step = time.Millisecond
	err := client.DeletePushes(context.Background(), "token")
	httpErr, ok := err.(*HTTPError)
	if !ok || httpErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 HTTPError, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Fatalf("expected 1 try plus 3 retries, got %d", got)
	}
}

func TestSleepContextStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); err != context.Canceled {
		t.Fatalf("expected canceled, got %v", err)
	}
}
