package serve

import (
	"context"
	"errors"
	"fmt"
	"github.com/VictoriaMetrics/metrics"
	"net"
	"net/http"
	"strconv"
	"time"
)

// startMetricsServer serves all VictoriaMetrics metrics of this process in
// Prometheus text format at /metrics. The returned function shuts it down.
func startMetricsServer(address string) (func(), error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("Metrics server failed: %v", err)
		}
	}()

	Logger.Infof("Serving metrics on http://%s/metrics", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// metricsAddress returns the metrics address of a prefork worker: the port is
// offset by the worker id so workers do not collide. Port 0 stays 0.
func metricsAddress(address string, workerID int) (string, error) {
	if workerID <= 0 {
		return address, nil
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "", fmt.Errorf("invalid metrics endpoint %s: %w", address, err)
	}

	p, err := strconv.Atoi(port)
	if err != nil {
		return "", fmt.Errorf("invalid metrics port %s: %w", port, err)
	}
	if p == 0 {
		return address, nil
	}
	if p+workerID > 65535 {
		return "", fmt.Errorf("metrics port %d out of range for worker %d", p, workerID)
	}

	return net.JoinHostPort(host, strconv.Itoa(p+workerID)), nil
}
