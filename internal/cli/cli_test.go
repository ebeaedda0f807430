package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"streamsub/internal/config"
	"streamsub/internal/httpapi"
	"streamsub/internal/streamer"
	"streamsub/pkg/types"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func waitFor(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !strings.Contains(out.String(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %q in %q", want, out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestParseHeaders(t *testing.T) {
	h, err := parseHeaders([]string{"Authorization=Bearer x", " X-A = 1 "})
	if err != nil {
		t.Fatal(err)
	}
	if h["Authorization"] != "Bearer x" || h["X-A"] != "1" {
		t.Fatalf("headers=%v", h)
	}
	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseHeaders([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestResolve_Precedence(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(p, []byte("endpoint: http://file/s\nmax_retries: 4\nretry_initial_ms: 300\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STREAMSUB_MAX_RETRIES", "7")

	v := newViper()
	sub := newSubscribeCmd(v)
	v.Set("config", p)
	if err := sub.Flags().Set("retry-initial-ms", "50"); err != nil {
		t.Fatal(err)
	}

	cfg, err := resolve(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Endpoint != "http://file/s" {
		t.Fatalf("endpoint from file lost: %q", cfg.Endpoint)
	}
	if cfg.MaxRetries != 7 {
		t.Fatalf("env should override file, got %d", cfg.MaxRetries)
	}
	if cfg.RetryInitialMS != 50 {
		t.Fatalf("flag should override file, got %d", cfg.RetryInitialMS)
	}
	if cfg.RetryMaxMS != 30000 || cfg.LogLevel != "info" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestResolve_ProducerLimits(t *testing.T) {
	v := newViper()
	serve := newServeCmd(v)
	if err := serve.Flags().Set("max-body-bytes", "4096"); err != nil {
		t.Fatal(err)
	}
	if err := serve.Flags().Set("max-streams", "5"); err != nil {
		t.Fatal(err)
	}
	cfg, err := resolve(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxBodyBytes != 4096 || cfg.MaxStreams != 5 {
		t.Fatalf("limits not applied: %+v", cfg)
	}
}

func TestSubscribeCommand_EndToEnd(t *testing.T) {
	reg := streamer.NewRegistry()
	reg.Hub("accelerometer")
	srv := httptest.NewServer(httpapi.NewMux(reg))
	defer srv.Close()

	out := &syncBuffer{}
	root := NewRootCmd()
	root.SetOut(out)
	root.SetArgs([]string{"subscribe", srv.URL + "/stream/accelerometer", "--retry-initial-ms", "1", "--log-level", "off"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- root.ExecuteContext(ctx) }()

	waitFor(t, out, "OPEN!\n"+streamer.DefaultGreeting+"\n")
	if _, err := reg.Publish("accelerometer", types.PublishRequest{Data: "42"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, out, "42\n")

	// Closing the producer ends the stream; the reconnection gets 204 and the
	// subscriber stops on its own.
	reg.Close()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("subscribe returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("subscribe did not return, output %q", out.String())
	}
	want := "OPEN!\nit works!\n42\nERROR! 0\nERROR! 2\n"
	if out.String() != want {
		t.Fatalf("output %q, want %q", out.String(), want)
	}
}

func TestSubscribeCommand_ContextCancel(t *testing.T) {
	reg := streamer.NewRegistry()
	reg.Hub("x")
	srv := httptest.NewServer(httpapi.NewMux(reg))
	defer srv.Close()
	defer reg.Close()

	out := &syncBuffer{}
	cfg := config.Config{Endpoint: srv.URL + "/stream/x"}
	cfg.ApplyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- runSubscribe(ctx, cfg, out, zerolog.Nop()) }()
	waitFor(t, out, "OPEN!")
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("runSubscribe ignored cancellation")
	}
	if strings.Contains(out.String(), "ERROR!") {
		t.Fatalf("user shutdown must not report an error: %q", out.String())
	}
}

func TestSubscribeCommand_BadConfig(t *testing.T) {
	root := NewRootCmd()
	root.SetArgs([]string{"subscribe", "--max-retries=-1"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestPublishFeed_Stdin(t *testing.T) {
	reg := streamer.NewRegistry(streamer.WithGreeting(""))
	hub := reg.Hub("s")
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer reg.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	publishFeed(context.Background(), reg, "s", strings.NewReader("a\nb\n"), 0, zerolog.Nop())
	buf := make([]byte, 64)
	var got strings.Builder
	for !strings.Contains(got.String(), "data: b\n\n") {
		n, err := resp.Body.Read(buf)
		if err != nil {
			t.Fatalf("read: %v (got %q)", err, got.String())
		}
		got.Write(buf[:n])
	}
	if !strings.Contains(got.String(), "data: a\n\n") {
		t.Fatalf("stream=%q", got.String())
	}
}
