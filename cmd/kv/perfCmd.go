package kv

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/sKV/cmd/util"
	"github.com/ValentinKolb/sKV/lib/config"
	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/segkey"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Measures the throughput of the configured backend",
		Long:    util.WrapString("Runs a set of benchmarks against the selected scope and table. All keys are written below the perf root and removed afterwards."),
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfRoot             = segkey.Register("perf", "cmd/kv perf")
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)

	log = logger.GetLogger("cli")
)

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the put-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// benchmark is one named workload
type benchmark struct {
	name string
	fn   func(b *testing.B)
}

func run(cmd *cobra.Command, _ []string) error {
	conf, err := util.GetConfig()
	if err != nil {
		return err
	}
	backend, err := env.Registry.Resolve(ctx(cmd), target)
	if err != nil {
		return err
	}
	c := ctx(cmd)

	fmt.Println("Performance testing tool for sKV backends")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(conf.String())
	fmt.Printf("Scope: %s, Table: %s, Engine: %s\n", target, tbl.Name(), backend.Info().DbType)
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()
	fmt.Println("starting tests...")

	put := func(key segkey.SegKeyBuf, value []byte) error {
		return db.UpdateRetry(c, backend, env.Retries, func(tx db.Tx) error {
			return tbl.Put(tx, key, value)
		})
	}
	remove := func(key segkey.SegKeyBuf) error {
		return db.UpdateRetry(c, backend, env.Retries, func(tx db.Tx) error {
			_, _, err := tbl.Remove(tx, key)
			return err
		})
	}
	get := func(key segkey.SegKeyBuf) error {
		return db.View(c, backend, func(tx db.Tx) error {
			_, _, err := tbl.Get(tx, key)
			return err
		})
	}

	// prepare runs setup for every key and registers their removal
	prepare := func(b *testing.B, name string, value []byte) func(int) segkey.SegKeyBuf {
		getKey, iter := getKeys(name)
		if value != nil {
			iter(func(k segkey.SegKeyBuf) {
				if err := put(k, value); err != nil {
					log.Errorf("(%s) - error preparing key: %v", name, err)
				}
			})
		}
		b.Cleanup(func() {
			iter(func(k segkey.SegKeyBuf) {
				if err := remove(k); err != nil {
					log.Errorf("(%s) - error deleting key: %v", name, err)
				}
			})
		})
		return getKey
	}

	benchmarks := []benchmark{
		{"put", func(b *testing.B) {
			getKey := prepare(b, "put", nil)
			b.SetParallelism(perfNumThreads)
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if err := put(getKey(counter), []byte("test")); err != nil {
						log.Errorf("(put) - error setting key: %v", err)
					}
					counter++
				}
			})
		}},
		{"put-large", func(b *testing.B) {
			largeValue := make([]byte, perfLargeValueSizeKB*1024)
			getKey := prepare(b, "put-large", nil)
			b.SetParallelism(perfNumThreads)
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if err := put(getKey(counter), largeValue); err != nil {
						log.Errorf("(put-large) - error setting key: %v", err)
					}
					counter++
				}
			})
		}},
		{"get", func(b *testing.B) {
			getKey := prepare(b, "get", []byte("test"))
			b.SetParallelism(perfNumThreads)
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if err := get(getKey(counter)); err != nil {
						log.Errorf("(get) - error reading key: %v", err)
					}
					counter++
				}
			})
		}},
		{"scan", func(b *testing.B) {
			prepare(b, "scan", []byte("test"))
			prefix := perfRoot.Join("scan").Prefix()
			b.SetParallelism(perfNumThreads)
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					err := db.View(c, backend, func(tx db.Tx) error {
						for _, err := range tbl.ScanBytes(tx, prefix) {
							if err != nil {
								return err
							}
						}
						return nil
					})
					if err != nil {
						log.Errorf("(scan) - error scanning: %v", err)
					}
				}
			})
		}},
		{"update", func(b *testing.B) {
			getKey := prepare(b, "update", []byte("0"))
			b.SetParallelism(perfNumThreads)
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					key := getKey(counter)
					err := db.UpdateRetry(c, backend, env.Retries, func(tx db.Tx) error {
						cur, _, err := tbl.Get(tx, key)
						if err != nil {
							return err
						}
						n, _ := strconv.Atoi(string(cur))
						return tbl.Put(tx, key, []byte(strconv.Itoa(n+1)))
					})
					if err != nil {
						log.Errorf("(update) - error updating key: %v", err)
					}
					counter++
				}
			})
		}},
		{"mixed", func(b *testing.B) {
			getKey := prepare(b, "mixed", []byte("test"))
			b.SetParallelism(perfNumThreads)
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					key := getKey(counter)
					var err error
					switch counter % 3 {
					case 0:
						err = put(key, []byte("test"))
					case 1:
						err = get(key)
					case 2:
						err = remove(key)
					}
					if err != nil {
						log.Errorf("(mixed) - error performing operation (%d): %v", counter%3, err)
					}
					counter++
				}
			})
		}},
	}

	results := make([]perfResult, 0, len(benchmarks))
	for _, bm := range benchmarks {
		var raw testing.BenchmarkResult
		if !shouldSkip(bm.name) {
			raw = testing.Benchmark(bm.fn)
		}
		r := summarize(bm.name, raw)
		results = append(results, r)
		fmt.Println(r)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, conf, backend.Info().DbType); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	return slices.Contains(perfSkip, test)
}

// getKeys creates the test keys of a benchmark and functions to work with them
func getKeys(name string) (func(int) segkey.SegKeyBuf, func(func(segkey.SegKeyBuf))) {
	keys := make([]segkey.SegKeyBuf, perfKeySpread)
	for i := range perfKeySpread {
		keys[i] = perfRoot.Join(name).Join(strconv.Itoa(i))
	}

	// with wraparound
	getKey := func(i int) segkey.SegKeyBuf {
		return keys[i%perfKeySpread]
	}

	iterateKeys := func(fn func(segkey.SegKeyBuf)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// perfResult is the summary of one benchmark run
type perfResult struct {
	name      string
	skipped   bool
	nsPerOp   float64
	opsPerSec float64
}

func summarize(name string, r testing.BenchmarkResult) perfResult {
	if r.N == 0 || r.NsPerOp() == 0 {
		return perfResult{name: name, skipped: true}
	}
	ns := math.Max(float64(r.NsPerOp()), 1)
	return perfResult{name: name, nsPerOp: ns, opsPerSec: 1e9 / ns}
}

func (r perfResult) String() string {
	if r.skipped {
		return fmt.Sprintf("%-20sskipped", r.name)
	}
	return fmt.Sprintf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec", r.name, r.nsPerOp, time.Duration(r.nsPerOp), r.opsPerSec)
}

// writeResultsToCSV writes one row per benchmark together with the settings
// it ran with
func writeResultsToCSV(csvPath string, results []perfResult, conf *config.Config, engine db.Implementation) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	rows := [][]string{{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Scope", "Table", "Engine", "DataDir", "SyncOnCommit", "CommitRetries",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}}
	for _, r := range results {
		rows = append(rows, []string{
			r.name,
			fmt.Sprintf("%.0f", r.nsPerOp),
			time.Duration(r.nsPerOp).String(),
			fmt.Sprintf("%.0f", r.opsPerSec),
			strconv.FormatBool(r.skipped),
			target.String(),
			tbl.Name(),
			string(engine),
			conf.DataDir,
			strconv.FormatBool(conf.SyncOnCommit),
			strconv.Itoa(conf.CommitRetries),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		})
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write CSV: %v", err)
	}
	return file.Close()
}
