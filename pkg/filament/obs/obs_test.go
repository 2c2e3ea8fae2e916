package obs

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{Debug, "DEBUG"},
		{Info, "INFO"},
		{Warn, "WARN"},
		{Error, "ERROR"},
		{Level(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestStdLoggerMinLevel(t *testing.T) {
	var buf bytes.Buffer
	l := StdLogger{L: log.New(&buf, "", 0), Min: Warn}

	l.Logf(Info, "dropped %d", 1)
	if buf.Len() != 0 {
		t.Errorf("info logged below min level: %q", buf.String())
	}

	l.Logf(Error, "kept %d", 2)
	out := buf.String()
	if !strings.Contains(out, "[ERROR] kept 2") {
		t.Errorf("output = %q", out)
	}
}

func TestStdLoggerPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := StdLogger{L: log.New(&buf, "", 0), Pref: "srv "}

	l.Logf(Info, "hello")
	if !strings.Contains(buf.String(), "srv [INFO] hello") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestStdLoggerNilBackend(t *testing.T) {
	// Must not panic.
	StdLogger{}.Logf(Error, "nowhere")
}

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ConnectionsAccepted.Inc()
	m.ConnectionsActive.Set(3)
	m.RequestsTotal.WithLabelValues("2xx").Inc()
	m.RequestDuration.Observe(0.005)
	m.ParseErrors.WithLabelValues("400").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"filament_server_connections_accepted_total",
		"filament_server_connections_active",
		"filament_server_requests_total",
		"filament_server_request_duration_seconds",
		"filament_server_parse_errors_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestNewMetricsSeparateRegistries(t *testing.T) {
	// Two instances must not collide, so embedding servers can each carry
	// their own registry.
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}
