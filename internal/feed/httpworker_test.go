package feed

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/quantfall/goxfeed/config"
	"github.com/quantfall/goxfeed/internal/bus"
	"github.com/quantfall/goxfeed/internal/schema"
)

func workerSettings(serverURL string) config.Settings {
	cfg := config.Default()
	cfg.Credentials = config.Credentials{Key: testKey, Secret: testSecret}
	cfg.Endpoints.HTTPBaseURL = serverURL
	cfg.Thresholds.HTTPTimeout = 2 * time.Second
	return cfg
}

func newTestWorker(t *testing.T, serverURL string) (*HTTPWorker, *bus.Bus) {
	t.Helper()
	cfg := workerSettings(serverURL)
	b := bus.New(nil)
	signer := NewSigner(cfg.Credentials, cfg.Currency, NewNonceSource())
	w := NewHTTPWorker(cfg, signer, b, nil, nil)
	// Tests should not wait out the production pacing.
	w.limiter.SetLimit(1000)
	return w, b
}

func collectFrames(b *bus.Bus, out chan<- schema.FrameEvent) {
	b.Subscribe(schema.TopicFrame, func(_ schema.Topic, payload any) {
		if ev, ok := payload.(schema.FrameEvent); ok {
			out <- ev
		}
	})
}

func TestWorkerPublishesResultFrame(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Rest-Key") == "" || r.Header.Get("Rest-Sign") == "" {
			t.Errorf("authentication headers missing")
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("nonce") == "" {
			t.Errorf("nonce missing from body")
		}
		_, _ = rw.Write([]byte(`{"result":"success","data":{"Wallets":{}}}`))
	}))
	defer server.Close()

	w, b := newTestWorker(t, server.URL)
	frames := make(chan schema.FrameEvent, 1)
	collectFrames(b, frames)

	w.Start()
	defer w.Stop()
	w.Enqueue("money/info", nil, "info")

	select {
	case frame := <-frames:
		if frame.Origin != "http" {
			t.Fatalf("origin: got %q want http", frame.Origin)
		}
		var decoded struct {
			Op string `json:"op"`
			ID string `json:"id"`
		}
		if err := json.Unmarshal(frame.Data, &decoded); err != nil {
			t.Fatalf("result frame: %v", err)
		}
		if decoded.Op != "result" || decoded.ID != "info" {
			t.Fatalf("result frame fields: %+v", decoded)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no result frame published")
	}
}

func TestWorkerRetriesRejectedCallBeforeAdvancing(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 3 {
			_, _ = rw.Write([]byte(`{"result":"error","error":"Order not found"}`))
			return
		}
		_, _ = rw.Write([]byte(`{"result":"success","data":"ok"}`))
	}))
	defer server.Close()

	w, b := newTestWorker(t, server.URL)
	frames := make(chan schema.FrameEvent, 2)
	collectFrames(b, frames)

	w.Start()
	defer w.Stop()
	w.Enqueue("money/orders", nil, "orders")

	select {
	case <-frames:
	case <-time.After(3 * time.Second):
		t.Fatal("call never succeeded")
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("attempts: got %d want 3", got)
	}
}

func TestWorkerDropsUndecodableResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		_, _ = rw.Write([]byte("<html>gateway error</html>"))
	}))
	defer server.Close()

	w, b := newTestWorker(t, server.URL)
	frames := make(chan schema.FrameEvent, 1)
	collectFrames(b, frames)

	w.Start()
	defer w.Stop()
	w.Enqueue("money/info", nil, "info")

	select {
	case <-frames:
		t.Fatal("frame published for a failed call")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWorkerSkipsCallsWithoutCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.Endpoints.HTTPBaseURL = "http://localhost:0"
	b := bus.New(nil)
	w := NewHTTPWorker(cfg, NewSigner(cfg.Credentials, cfg.Currency, NewNonceSource()), b, nil, nil)

	w.Enqueue("money/info", nil, "info")

	select {
	case <-w.queue:
		t.Fatal("unauthenticated call queued")
	default:
	}
}

func TestWorkerAssignsCorrelationID(t *testing.T) {
	cfg := workerSettings("http://localhost:0")
	b := bus.New(nil)
	w := NewHTTPWorker(cfg, NewSigner(cfg.Credentials, cfg.Currency, NewNonceSource()), b, nil, nil)

	w.Enqueue("money/info", url.Values{}, "")

	select {
	case req := <-w.queue:
		if req.CorrelationID == "" {
			t.Fatal("correlation id not assigned")
		}
	default:
		t.Fatal("request not queued")
	}
}
