package call

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/sedarpc/cmd/util"
	"github.com/ValentinKolb/sedarpc/rpc/common"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	benchCmd = &cobra.Command{
		Use:   "bench",
		Short: "Load generator for sedarpc servers",
		Long:  "Runs a fixed number of calls per test with the given concurrency, spread over the given number of connections per endpoint, and reports throughput and latency.",
		Args:  cobra.NoArgs,
		RunE:  runBench,
	}
	benchRequests    = 10000
	benchConcurrency = 32
	benchConnections = 4
	benchPayloadKB   = 64
	benchSkip        = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	benchCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. ping,echo-large)"))
	key = "requests"
	benchCmd.Flags().Int(key, benchRequests, util.WrapString("Number of calls per benchmark"))
	key = "concurrency"
	benchCmd.Flags().Int(key, benchConcurrency, util.WrapString("Number of calls in flight at the same time"))
	key = "connections"
	benchCmd.Flags().Int(key, benchConnections, util.WrapString("Number of connections per endpoint"))
	key = "payload-size"
	benchCmd.Flags().Int(key, benchPayloadKB, util.WrapString("Attachment size of the echo-large benchmark (in KB)"))
	key = "csv"
	benchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

// processBenchConfig reads the bench flags and multiplies the endpoints so
// that every endpoint is reached over several connections
func processBenchConfig(config *common.ClientConfig) error {
	benchRequests = viper.GetInt("requests")
	benchConcurrency = viper.GetInt("concurrency")
	benchConnections = viper.GetInt("connections")
	benchPayloadKB = viper.GetInt("payload-size")
	benchSkip = strings.Split(viper.GetString("skip"), ",")

	if benchRequests < 1 || benchConcurrency < 1 || benchConnections < 1 {
		return fmt.Errorf("requests, concurrency and connections must be positive")
	}

	// the transport keeps one connection per endpoint, distinct tags make
	// distinct endpoints for the same address
	var endpoints []string
	for _, s := range config.Endpoints {
		ep, err := common.ParseEndpoint(s)
		if err != nil {
			return err
		}
		for i := 0; i < benchConnections; i++ {
			ep.Location = "bench"
			ep.Service = "c" + strconv.Itoa(i)
			endpoints = append(endpoints, ep.String())
		}
	}
	config.Endpoints = endpoints
	return nil
}

// benchResult holds the measurements of one benchmark
type benchResult struct {
	name     string
	skipped  bool
	calls    int64
	errors   int64
	elapsed  time.Duration
	latency  gometrics.Histogram // microseconds
	bytesOut int64
}

func (r benchResult) opsPerSec() float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return float64(r.calls) / r.elapsed.Seconds()
}

func runBench(_ *cobra.Command, _ []string) error {
	fmt.Println("Load generator for sedarpc servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Requests: %d, concurrency: %d, connections per endpoint: %d\n", benchRequests, benchConcurrency, benchConnections)
	fmt.Println()

	fmt.Println("starting benchmarks...")

	small := []byte("sedarpc")
	large := make([]byte, benchPayloadKB*1024)
	for i := range large {
		large[i] = byte(i)
	}

	tests := []struct {
		name string
		call func(ctx context.Context) error
		size int
	}{
		{"ping", func(ctx context.Context) error { return rpcClient.Ping(ctx) }, 0},
		{"echo", func(ctx context.Context) error {
			_, err := rpcClient.Echo(ctx, small, nil)
			return err
		}, len(small)},
		{"echo-large", func(ctx context.Context) error {
			resp, err := rpcClient.Echo(ctx, nil, large)
			if err == nil && len(resp.Attachment) != len(large) {
				err = fmt.Errorf("attachment came back with %d of %d bytes", len(resp.Attachment), len(large))
			}
			return err
		}, len(large)},
	}

	results := make([]benchResult, 0, len(tests))
	for _, tt := range tests {
		var r benchResult
		if shouldSkip(tt.name) {
			r = benchResult{name: tt.name, skipped: true}
		} else {
			r = benchmark(tt.name, tt.size, tt.call)
		}
		results = append(results, r)
		printResult(r)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	fmt.Printf("\nTransport: %s\n", rpcClient.Transport().Metrics().Snapshot())
	return nil
}

// benchmark runs benchRequests calls on benchConcurrency goroutines
func benchmark(name string, size int, call func(ctx context.Context) error) benchResult {
	latency := gometrics.NewHistogram(gometrics.NewUniformSample(100000))
	var next, failed atomic.Int64
	var logOnce sync.Once

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < benchConcurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for next.Add(1) <= int64(benchRequests) {
				t := time.Now()
				err := call(context.Background())
				latency.Update(time.Since(t).Microseconds())
				if err != nil {
					failed.Add(1)
					logOnce.Do(func() { fmt.Printf("(%s) - error: %v\n", name, err) })
				}
			}
		}()
	}
	wg.Wait()

	return benchResult{
		name:     name,
		calls:    int64(benchRequests),
		errors:   failed.Load(),
		elapsed:  time.Since(start),
		latency:  latency,
		bytesOut: int64(benchRequests) * int64(size),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range benchSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

func micros(v float64) time.Duration {
	return time.Duration(v * float64(time.Microsecond))
}

// printResult prints the result of a benchmark in a formatted way
func printResult(r benchResult) {
	if r.skipped {
		fmt.Printf("%-14sskipped\n", r.name)
		return
	}

	ps := r.latency.Percentiles([]float64{0.5, 0.99})
	fmt.Printf("%-14s%8.0f ops/sec\tmean %s\tp50 %s\tp99 %s\tmax %s\terrors %d\n",
		r.name, r.opsPerSec(),
		micros(r.latency.Mean()), micros(ps[0]), micros(ps[1]), micros(float64(r.latency.Max())),
		r.errors)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []benchResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "OpsPerSec", "MeanUs", "P50Us", "P99Us", "MaxUs", "Errors", "BytesSent", "Skipped",
		"Endpoints", "TimeoutSec", "Serializer", "Workers",
		"Requests", "Concurrency", "Connections", "PayloadKB",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for _, r := range results {
		row := []string{r.name, "0", "0", "0", "0", "0", "0", "0", "true"}
		if !r.skipped {
			ps := r.latency.Percentiles([]float64{0.5, 0.99})
			row = []string{
				r.name,
				fmt.Sprintf("%.0f", r.opsPerSec()),
				fmt.Sprintf("%.0f", r.latency.Mean()),
				fmt.Sprintf("%.0f", ps[0]),
				fmt.Sprintf("%.0f", ps[1]),
				strconv.FormatInt(r.latency.Max(), 10),
				strconv.FormatInt(r.errors, 10),
				strconv.FormatInt(r.bytesOut, 10),
				"false",
			}
		}
		row = append(row,
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			viper.GetString("serializer"),
			strconv.Itoa(config.Transport.Workers),
			strconv.Itoa(benchRequests),
			strconv.Itoa(benchConcurrency),
			strconv.Itoa(benchConnections),
			strconv.Itoa(benchPayloadKB),
		)

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", r.name, err)
		}
	}

	return nil
}
