package debughttp

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPprofMuxServesIndex(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	rr := httptest.NewRecorder()

	newPprofMux().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "profile?debug=1") {
		t.Fatalf("expected pprof index body, got %q", rr.Body.String())
	}
}

func TestStartPprofServer(t *testing.T) {
	t.Parallel()

	// Empty address disables the server.
	if err := StartPprofServer(context.Background(), "  ", nil); err != nil {
		t.Fatalf("empty addr: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	// A taken address fails on the call, not later in the serve goroutine.
	if err := StartPprofServer(context.Background(), ln.Addr().String(), nil); err == nil {
		t.Fatalf("expected address conflict")
	}
}
