package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                     "/",
		"/metrics":                             "/metrics",
		"/v1/auth/login":                       "/v1/auth/login",
		"/v1/modules/motor/capabilities":       "/v1/modules/:module/capabilities",
		"/v1/modules/motor/extra":              "/v1/modules/motor/extra",
		"/v1/admin/users/u1/modules":           "/v1/admin/users/:id/modules",
		"/v1/admin/users/u1/modules/life":      "/v1/admin/users/:id/modules/:module",
		"/v1/admin/users/u1/status":            "/v1/admin/users/:id/status",
		"/v1/admin/users/u1/modules?verbose=1": "/v1/admin/users/:id/modules",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestRecordDecisionCounts(t *testing.T) {
	before := testutil.ToFloat64(authDecisions.WithLabelValues("module", "denied", "module_access_denied"))
	RecordDecision("module", "module_access_denied", false)
	after := testutil.ToFloat64(authDecisions.WithLabelValues("module", "denied", "module_access_denied"))
	if after-before != 1 {
		t.Fatalf("expected counter to increase by 1, got %v", after-before)
	}

	allowedBefore := testutil.ToFloat64(authDecisions.WithLabelValues("permission", "allowed", ""))
	RecordDecision("permission", "internal", true)
	if got := testutil.ToFloat64(authDecisions.WithLabelValues("permission", "allowed", "")); got-allowedBefore != 1 {
		t.Fatalf("allowed decisions should drop the kind label, delta=%v", got-allowedBefore)
	}
}

func TestInstrumentUsesCanonicalPath(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/admin/users/:id/modules", "418"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/users/abc/modules", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/admin/users/:id/modules", "418"))
	if after-before != 1 {
		t.Fatalf("expected one request recorded, delta=%v", after-before)
	}
}

func TestSetLoggerSwapsShared(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	prev := SetLogger(zap.New(core))
	defer SetLogger(prev)

	Logger().Info("hello")
	if logs.Len() != 1 || logs.All()[0].Message != "hello" {
		t.Fatalf("expected message on observed logger, got %d entries", logs.Len())
	}
}

func TestInitLoggerRejectsBadLevel(t *testing.T) {
	prev := Logger()
	defer SetLogger(prev)
	if _, err := InitLogger("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
