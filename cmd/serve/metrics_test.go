package serve

import (
	"github.com/VictoriaMetrics/metrics"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestMetricsAddress(t *testing.T) {
	tests := []struct {
		address  string
		workerID int
		want     string
		wantErr  bool
	}{
		{"127.0.0.1:9100", -1, "127.0.0.1:9100", false},
		{"127.0.0.1:9100", 0, "127.0.0.1:9100", false},
		{"127.0.0.1:9100", 3, "127.0.0.1:9103", false},
		{":9100", 1, ":9101", false},
		{"127.0.0.1:0", 2, "127.0.0.1:0", false},
		{"127.0.0.1:65535", 1, "", true},
		{"no-port", 1, "", true},
	}

	for _, tt := range tests {
		got, err := metricsAddress(tt.address, tt.workerID)
		if (err != nil) != tt.wantErr {
			t.Errorf("metricsAddress(%q, %d): expected error %v, got %v", tt.address, tt.workerID, tt.wantErr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("metricsAddress(%q, %d) = %q, expected %q", tt.address, tt.workerID, got, tt.want)
		}
	}
}

func TestMetricsServer(t *testing.T) {
	metrics.GetOrCreateCounter(`dipc_metrics_test_total`).Inc()

	stop, err := startMetricsServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start metrics server: %v", err)
	}
	stop()

	if _, err := startMetricsServer("not an address"); err == nil {
		t.Error("Expected error for an invalid address")
	}
}

func TestMetricsHandlerOutput(t *testing.T) {
	metrics.GetOrCreateCounter(`dipc_metrics_output_total`).Add(2)

	var sb strings.Builder
	metrics.WritePrometheus(&sb, false)
	if !strings.Contains(sb.String(), "dipc_metrics_output_total 2") {
		t.Errorf("Expected counter in output, got:\n%s", sb.String())
	}

	// The served endpoint returns the same format
	stop, err := startMetricsServer("127.0.0.1:19371")
	if err != nil {
		t.Skipf("Port not available: %v", err)
	}
	defer stop()

	resp, err := http.Get("http://127.0.0.1:19371/metrics")
	if err != nil {
		t.Fatalf("Failed to fetch metrics: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "dipc_metrics_output_total 2") {
		t.Errorf("Expected counter in served metrics, got:\n%s", body)
	}
}
