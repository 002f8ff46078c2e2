package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// --- Shutdown Coordinator ---

func TestShutdownCoordinatorLIFO(t *testing.T) {
	var order []int
	sc := &ShutdownCoordinator{}
	for i := 1; i <= 3; i++ {
		sc.Register(fmt.Sprintf("h%d", i), func(context.Context) error {
			order = append(order, i)
			return nil
		})
	}

	if err := sc.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Fatalf("expected LIFO [3,2,1], got %v", order)
	}

	// Handlers run once.
	if err := sc.Shutdown(context.Background()); err != nil || len(order) != 3 {
		t.Fatalf("second shutdown ran handlers again: %v %v", order, err)
	}
}

func TestShutdownCoordinatorError(t *testing.T) {
	ran := 0
	sc := &ShutdownCoordinator{}
	sc.Register("first", func(context.Context) error { ran++; return nil })
	sc.Register("bad", func(context.Context) error { ran++; return errors.New("fail") })
	sc.Register("third", func(context.Context) error { ran++; return nil })

	err := sc.Shutdown(context.Background())
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("error should mention 'bad': %v", err)
	}
	if ran != 3 {
		t.Fatalf("expected all 3 handlers to run, got %d", ran)
	}
}

// --- Metrics ---

func TestNewMetricsRegistersPortMeters(t *testing.T) {
	m := NewMetrics()
	m.Port.MessagesSent.WithLabelValues("evt").Inc()
	m.OperationTotal.WithLabelValues("call", "ok").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"ifrau_messages_sent_total", "ifrau_operation_total", "ifrau_pending_requests"} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

// --- Logging ---

func TestSetupLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger("info", "json", &buf)
	logger.Info("hello", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v: %s", err, buf.String())
	}
	if entry["msg"] != "hello" || entry["key"] != "value" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestSetupLoggerLevels(t *testing.T) {
	tests := []struct {
		level   string
		debugOn bool
		warnOn  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, true},
		{"error", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := SetupLogger(tt.level, "json", io.Discard)
			ctx := context.Background()
			if got := logger.Enabled(ctx, slog.LevelDebug); got != tt.debugOn {
				t.Errorf("debug enabled = %v", got)
			}
			if got := logger.Enabled(ctx, slog.LevelWarn); got != tt.warnOn {
				t.Errorf("warn enabled = %v", got)
			}
		})
	}
}

func TestPrettyHandlerPlainWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil)
	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("port", "abc")}).WithGroup("req"))
	logger.Info("received message", "key", "hello")

	out := buf.String()
	if strings.Contains(out, "\033[") {
		t.Fatalf("colored output to a buffer: %q", out)
	}
	for _, want := range []string{"INF", "received message", "port=abc", "req.key=hello"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestLevelLabel(t *testing.T) {
	if got := levelLabel(slog.LevelWarn, false); got != "WRN" {
		t.Errorf("plain = %q", got)
	}
	if got := levelLabel(slog.LevelError, true); got != colorRed+"ERR"+colorReset {
		t.Errorf("colored = %q", got)
	}
	if got := levelLabel(slog.LevelDebug, false); got != "DBG" {
		t.Errorf("debug = %q", got)
	}
}

func TestTraceHandlerAddsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(&TraceHandler{Handler: slog.NewJSONHandler(&buf, nil)})

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1},
		SpanID:  trace.SpanID{2},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	logger.InfoContext(ctx, "traced")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["trace_id"] != sc.TraceID().String() || entry["span_id"] != sc.SpanID().String() {
		t.Fatalf("entry = %v", entry)
	}
}

// --- Operation ---

func TestStartOperationEnd(t *testing.T) {
	m := NewMetrics()
	op, ctx := StartOperation(context.Background(), m, "call", attribute.String("key", "hello"))
	if ctx == nil {
		t.Fatal("nil context")
	}
	op.End(nil)

	if got := testutil.ToFloat64(m.OperationTotal.WithLabelValues("call", "ok")); got != 1 {
		t.Fatalf("ok count = %v", got)
	}

	op, _ = StartOperation(context.Background(), m, "call")
	op.End(errors.New("boom"))
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("call", "operation")); got != 1 {
		t.Fatalf("error count = %v", got)
	}
}

// --- gRPC interceptor ---

type mockServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context { return m.ctx }
func (m *mockServerStream) SendMsg(any) error        { return nil }
func (m *mockServerStream) RecvMsg(any) error        { return nil }

func TestStreamServerInterceptorCountsFrames(t *testing.T) {
	m := NewMetrics()
	interceptor := StreamServerInterceptor(m)
	info := &grpc.StreamServerInfo{FullMethod: "/ifrau.channel.v1.Channel/Connect"}

	err := interceptor(nil, &mockServerStream{ctx: context.Background()}, info, func(_ any, ss grpc.ServerStream) error {
		_ = ss.SendMsg("a")
		_ = ss.SendMsg("b")
		_ = ss.RecvMsg(nil)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(m.StreamFrames.WithLabelValues("out")); got != 2 {
		t.Errorf("out frames = %v", got)
	}
	if got := testutil.ToFloat64(m.StreamFrames.WithLabelValues("in")); got != 1 {
		t.Errorf("in frames = %v", got)
	}
	if got := testutil.ToFloat64(m.OperationTotal.WithLabelValues(info.FullMethod, "OK")); got != 1 {
		t.Errorf("op total = %v", got)
	}
}

func TestStreamServerInterceptorError(t *testing.T) {
	m := NewMetrics()
	interceptor := StreamServerInterceptor(m)
	info := &grpc.StreamServerInfo{FullMethod: "/ifrau.channel.v1.Channel/Connect"}

	err := interceptor(nil, &mockServerStream{ctx: context.Background()}, info, func(any, grpc.ServerStream) error {
		return grpcstatus.Error(grpccodes.InvalidArgument, "missing ifrau-source")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues(info.FullMethod, "InvalidArgument")); got != 1 {
		t.Fatalf("errors = %v", got)
	}
}

// --- Observability ---

func TestNewWithoutOTLP(t *testing.T) {
	obs, err := New(context.Background(), ObsConfig{LogLevel: "error", LogFormat: "json"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if obs.TracerProvider == nil || obs.Metrics == nil {
		t.Fatal("components missing")
	}
	if n := len(obs.PortOptions()); n != 3 {
		t.Fatalf("port options = %d", n)
	}
	if err := obs.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestInitTracerRejectsUnknownProtocol(t *testing.T) {
	_, err := InitTracer(context.Background(), TracerConfig{Endpoint: "localhost:4318", Protocol: "carrier-pigeon"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestServeMetricsEndpoints(t *testing.T) {
	obs, err := New(context.Background(), ObsConfig{LogLevel: "error", LogFormat: "json"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	obs.ServeMetrics(context.Background(), addr)
	t.Cleanup(func() { _ = obs.Close(context.Background()) })

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = http.Get("http://" + addr + "/health")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Fatalf("health = %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "ifrau_pending_requests") {
		t.Fatal("port meters missing from /metrics")
	}
}
