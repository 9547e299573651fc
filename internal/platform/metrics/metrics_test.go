package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegistry_RendersSortedCollectors(t *testing.T) {
	r := NewRegistry()
	events := NewCounterVec(Opts{Name: "sync_events_total", Help: "Events."}, []string{"event", "outcome"})
	gauge := NewGauge(Opts{Name: "a_gauge", Help: "A gauge."})
	r.MustRegister(events, gauge)

	events.WithLabelValues("task-created", "applied").Inc()
	events.WithLabelValues("task-created", "applied").Add(2)
	events.WithLabelValues("task-created", "applied").Add(-1)
	events.WithLabelValues("only-one-label").Inc()
	gauge.Set(1.5)

	out := r.Render()
	want := "# HELP a_gauge A gauge.\n# TYPE a_gauge gauge\na_gauge 1.5\n" +
		"# HELP sync_events_total Events.\n# TYPE sync_events_total counter\n" +
		"sync_events_total{event=\"task-created\",outcome=\"applied\"} 3\n"
	if out != want {
		t.Fatalf("unexpected render:\n%s", out)
	}
}

func TestGaugeVec_SetOverwrites(t *testing.T) {
	g := NewGaugeVec(Opts{Name: "realtime_state", Help: "State."}, []string{"state"})
	g.Set(1, "connected")
	g.Set(0, "connected")
	g.Set(1, "disconnected")

	if v := g.Value("connected"); v != 0 {
		t.Fatalf("connected = %v", v)
	}
	if v := g.Value("disconnected"); v != 1 {
		t.Fatalf("disconnected = %v", v)
	}
}

func TestRegistry_DuplicateNamePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	r := NewRegistry()
	r.MustRegister(NewGauge(Opts{Name: "x"}), NewGauge(Opts{Name: "x"}))
}

func TestHandler_ServesTextFormat(t *testing.T) {
	r := NewRegistry()
	RegisterRuntime(r)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("missing runtime gauge:\n%s", rec.Body.String())
	}
}

func TestEscapeLabelValue(t *testing.T) {
	if got := escapeLabelValue("a\"b\\c\nd"); got != `a\"b\\c\nd` {
		t.Fatalf("escapeLabelValue = %q", got)
	}
}
