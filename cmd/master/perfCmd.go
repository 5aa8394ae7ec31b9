package master

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dHA/cmd/util"
	ha "github.com/ValentinKolb/dHA/lib/master"
	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for masters",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfResource   = "__perf.db"
	perfTxSizeKB   = 4
	perfNumThreads = 10
	perfSkip       = make([]string, 0)

	// every benchmarked session gets its own event identifier
	perfNextEvent atomic.Int32
)

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. allocate-ids,pull)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of sessions running at the same time"))
	key = "tx-size"
	perfTestCmd.Flags().Int(key, 4, util.WrapString("How large the transactions of the commit test should be (in KB)"))
	key = "metrics"
	perfTestCmd.Flags().Bool(key, false, util.WrapString("Print the client metrics (Prometheus format) after the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfTxSizeKB = viper.GetInt("tx-size")
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfNumThreads <= 0 {
		return fmt.Errorf("threads must be positive, got %d", perfNumThreads)
	}
	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	config := masterClient.Config()

	fmt.Println("Performance testing tool for masters")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)
	tx := make([]byte, perfTxSizeKB*1024)

	benchmarks := []struct {
		name string
		op   func(ctx context.Context, i int) error
	}{
		{
			// context-less, one short lived lease per request
			name: "allocate-ids",
			op: func(ctx context.Context, _ int) error {
				_, err := masterClient.AllocateIds(ctx, ha.IdTypeNode)
				return err
			},
		},
		{
			name: "pull",
			op: func(ctx context.Context, _ int) error {
				s := masterClient.BeginSession(perfSlaveContext())
				defer s.Close()
				if _, err := s.PullUpdates(ctx); err != nil {
					return err
				}
				_, err := s.Finish(ctx)
				return err
			},
		},
		{
			name: "lock",
			op: func(ctx context.Context, i int) error {
				s := masterClient.BeginSession(perfSlaveContext())
				defer s.Close()
				if _, err := s.AcquireNodeWriteLock(ctx, int64(i)); err != nil {
					return err
				}
				_, err := s.Finish(ctx)
				return err
			},
		},
		{
			name: "lock-commit",
			op: func(ctx context.Context, i int) error {
				s := masterClient.BeginSession(perfSlaveContext())
				defer s.Close()
				lock, err := s.AcquireNodeWriteLock(ctx, int64(i))
				if err != nil {
					return err
				}
				if lock.Value.Status != ha.LockStatusOkLocked {
					return fmt.Errorf("lock on node %d denied: %s", i, lock.Value.Status)
				}
				if _, err := s.Commit(ctx, perfResource, ha.NewChunkStream(tx)); err != nil {
					return err
				}
				_, err = s.Finish(ctx)
				return err
			},
		},
	}

	for _, bm := range benchmarks {
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(bm.name) {
				return
			}
			runSessions(b, bm.name, bm.op)
		})
		results[bm.name] = result
		printResult(bm.name, result)
	}

	stats := masterClient.PoolStats()
	fmt.Printf("\nchannels: active=%d, idle=%d, leased=%d\n", stats.Active, stats.Idle, stats.Leased)

	if viper.GetBool("metrics") {
		fmt.Println()
		masterClient.WriteMetrics(os.Stdout)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// runSessions runs b.N operations with at most perfNumThreads at the same time
func runSessions(b *testing.B, name string, op func(ctx context.Context, i int) error) {
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(perfNumThreads)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		i := i
		g.Go(func() error {
			return op(ctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("(%s) - error: %v\n", name, err)
	}
}

func perfSlaveContext() ha.SlaveContext {
	sc := util.GetSlaveContext()
	sc.EventIdentifier = perfNextEvent.Add(1)
	return sc
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

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Master", "MaxChannels", "IdleCacheSize", "ResponseTimeout",
		"Threads", "TxSizeKB",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

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
			config.Endpoint(),
			strconv.Itoa(config.MaxConcurrentChannels),
			strconv.Itoa(config.IdleCacheSize),
			config.ResponseTimeout.String(),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfTxSizeKB),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
