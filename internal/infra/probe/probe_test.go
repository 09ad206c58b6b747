package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHTTPProbe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer ts.Close()

	p := NewHTTPProbe(ts.URL, time.Second)
	ok, err := p.Check(context.Background())
	if !ok || err != nil {
		t.Errorf("Check() = %v, %v, want true, nil", ok, err)
	}

	status.Store(http.StatusServiceUnavailable)
	ok, err = p.Check(context.Background())
	if ok || err == nil {
		t.Errorf("Check() on 503 = %v, %v, want false with error", ok, err)
	}
}

func TestHTTPProbeUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	ok, err := NewHTTPProbe(url, time.Second).Check(context.Background())
	if ok || err == nil {
		t.Errorf("Check() on closed server = %v, %v, want false with error", ok, err)
	}
}

func TestGRPCProbe(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	hs.SetServingStatus("scraper", healthpb.HealthCheckResponse_SERVING)

	p, err := NewGRPCProbe(lis.Addr().String(), "scraper")
	if err != nil {
		t.Fatalf("NewGRPCProbe() error = %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := p.Check(ctx)
	if !ok || err != nil {
		t.Errorf("Check() = %v, %v, want true, nil", ok, err)
	}

	hs.SetServingStatus("scraper", healthpb.HealthCheckResponse_NOT_SERVING)
	ok, err = p.Check(ctx)
	if ok || err == nil {
		t.Errorf("Check() on NOT_SERVING = %v, %v, want false with error", ok, err)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"none", Config{}, false},
		{"http", Config{Type: "http", Target: "http://localhost:1"}, false},
		{"grpc", Config{Type: "grpc", Target: "localhost:1"}, false},
		{"unknown", Config{Type: "smtp"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, closeFn, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if closeFn == nil {
				t.Fatal("New() returned nil close function")
			}
			defer closeFn()
			if !tt.wantErr && p == nil {
				t.Error("New() returned nil probe")
			}
		})
	}

	ok, _ := Static(true).Check(context.Background())
	if !ok {
		t.Error("Static(true).Check() = false")
	}
}
