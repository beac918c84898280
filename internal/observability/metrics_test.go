package observability

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestServerExposesMetrics(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()

	server := NewServer(addr)
	ctx := context.Background()
	if err := server.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	RecordAction("delete", true)
	RecordStreamEntry("fw:stream:matched", "acked")

	var body string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err == nil {
			raw, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			body = string(raw)
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.Contains(body, `forumwarden_actions_total{action="delete",result="success"}`) {
		t.Fatalf("expected action counter in metrics output")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := server.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := server.Stop(stopCtx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
