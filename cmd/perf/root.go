package perf

import (
	"context"
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/dIPC/cmd/util"
	"github.com/ValentinKolb/dIPC/ipc/cache"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/events"
	"github.com/ValentinKolb/dIPC/ipc/loop"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

var (
	// PerfCmd benchmarks a running server
	PerfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dIPC servers",
		Long:    "Performance testing tool for dIPC servers. Messages are sent fire and forget, so the results measure how fast the server accepts frames.",
		PreRunE: processPerfConfig,
		RunE:    run,
	}
	perfLargeValueSizeKB = 500
	perfNumThreads       = 10
	perfTag              = "perf"
	perfSkip             = make([]string, 0)
	registry             *cache.Registry
)

func init() {
	util.SetupClientFlags(PerfCmd)

	// add flags
	key := "skip"
	PerfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. send,fire)"))
	key = "threads"
	PerfCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	PerfCmd.Flags().Int(key, 500, util.WrapString("How large the payload for the send-large test should be (in KB)"))
	key = "tag"
	PerfCmd.Flags().String(key, "perf", util.WrapString("Event tag used by the fire test"))
	key = "csv"
	PerfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfNumThreads = viper.GetInt("threads")
	perfTag = viper.GetString("tag")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}
	factory, err := util.GetClientFactory(*util.GetClientConfig(), s)
	if err != nil {
		return err
	}
	registry = cache.NewRegistry(factory)

	return nil
}

func run(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for dIPC servers")

	config := util.GetClientConfig()
	endpoint := config.Transport.Endpoint

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	// All benchmarks share one loop, the cache hands out one client per endpoint
	l := loop.New(common.LoopConfig{Workers: 1})
	defer l.Close()

	// Fail early if the server is not reachable
	h, err := registry.GetOrCreate(l, endpoint)
	if err != nil {
		return err
	}
	if err := h.Connect(context.Background()); err != nil {
		h.Release()
		return err
	}
	defer h.Release()

	fmt.Println("starting tests...")

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	// send: all threads share the cached client
	results["send"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkip("send") {
			return
		}
		sendParallel(b, l, endpoint, func(h *cache.Handle) error {
			return h.Send(context.Background(), common.NewEnvelope("test"))
		})
	})
	printResult("send", results["send"])

	// send-large: shared client, large payload
	results["send-large"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkip("send-large") {
			return
		}
		largeValue := make([]byte, perfLargeValueSizeKB*1024)
		b.SetBytes(int64(len(largeValue)))
		sendParallel(b, l, endpoint, func(h *cache.Handle) error {
			return h.Send(context.Background(), common.NewEnvelope(largeValue))
		})
	})
	printResult("send-large", results["send-large"])

	// fire: tagged events with id and origin
	results["fire"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkip("fire") {
			return
		}
		payload := map[string]interface{}{"fun": "test.ping", "ret": true}
		sendParallel(b, l, endpoint, func(h *cache.Handle) error {
			_, err := events.FireEvent(context.Background(), h, perfTag, payload)
			return err
		})
	})
	printResult("fire", results["fire"])

	// send-isolated: every thread has its own loop and therefore its own connection
	results["send-isolated"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkip("send-isolated") {
			return
		}
		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			own := loop.New(common.LoopConfig{Workers: 1})
			defer own.Close()

			h, err := registry.GetOrCreate(own, endpoint)
			if err != nil {
				log.Printf("(send-isolated) - error creating client: %v\n", err)
				return
			}
			defer h.Release()

			for pb.Next() {
				if err := h.Send(context.Background(), common.NewEnvelope("test")); err != nil {
					log.Printf("(send-isolated) - error sending: %v\n", err)
				}
			}
		})
	})
	printResult("send-isolated", results["send-isolated"])

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// sendParallel runs op from perfNumThreads goroutines sharing the cached client of l
func sendParallel(b *testing.B, l *loop.Loop, endpoint string, op func(h *cache.Handle) error) {
	b.SetParallelism(perfNumThreads)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		h, err := registry.GetOrCreate(l, endpoint)
		if err != nil {
			log.Printf("error getting client: %v\n", err)
			return
		}
		defer h.Release()

		for pb.Next() {
			if err := op(h); err != nil {
				log.Printf("error sending to %s: %v\n", endpoint, err)
			}
		}
	})
}

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoint", "TimeoutSec", "Serializer", "Transport",
		"Threads", "LargeValueSizeKB",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		skipped := "true"

		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			config.Transport.Endpoint,
			strconv.Itoa(config.TimeoutSecond),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
