package stats

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ValentinKolb/sKV/cmd/util"
	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/scope"
	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// scopeStats is the printed form of one opened scope
type scopeStats struct {
	Scope string  `json:"scope" yaml:"scope"`
	Info  db.Info `json:"info" yaml:"info"`
}

// report is everything the stats command prints
type report struct {
	Scopes  []scopeStats      `json:"scopes" yaml:"scopes"`
	Metrics map[string]string `json:"metrics" yaml:"metrics"`
}

// StatsCmd opens the given scopes and prints their backend info and the
// process metrics
var StatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Shows backend info and metrics",
	Long: util.WrapString(`Opens the application scope and every scope given with --scope, then prints
the info of each backend and the metrics of this process in Prometheus text
format.`),
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	StatsCmd.Flags().StringSlice("scope", nil, util.WrapString("Additional scopes to open (workspace:<id>, collection:<id>)"))
	StatsCmd.Flags().Bool("process-metrics", false, util.WrapString("Include go runtime and process metrics"))
	util.SetupOutputFlag(StatsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var scopes []scope.Scope
	for _, str := range viper.GetStringSlice("scope") {
		s, err := scope.Parse(str)
		if err != nil {
			return err
		}
		scopes = append(scopes, s)
	}

	conf, err := util.GetConfig()
	if err != nil {
		return err
	}
	env, closeEnv, err := util.OpenEnv(ctx, conf)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeEnv(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing storage: %v\n", err)
		}
	}()

	for _, s := range scopes {
		if _, err := env.Registry.Resolve(ctx, s); err != nil {
			return err
		}
	}

	var rep report
	for _, s := range env.Registry.Opened() {
		info, ok := env.Registry.Info(s)
		if !ok {
			continue
		}
		rep.Scopes = append(rep.Scopes, scopeStats{Scope: s.String(), Info: info})
	}

	var buf bytes.Buffer
	metrics.WritePrometheus(&buf, viper.GetBool("process-metrics"))
	rep.Metrics = parsePrometheus(buf.Bytes())

	return util.Print(cmd.OutOrStdout(), viper.GetString("output"), rep, func(w io.Writer) error {
		for _, s := range rep.Scopes {
			fmt.Fprintf(w, "%-24s %-7s %10d bytes  tables=%v\n", s.Scope, s.Info.DbType, s.Info.SizeBytes, s.Info.Tables)
		}
		fmt.Fprintln(w)
		_, err := w.Write(buf.Bytes())
		return err
	})
}

// parsePrometheus turns "name value" lines into a map, skipping comments
func parsePrometheus(data []byte) map[string]string {
	out := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.LastIndexByte(line, ' ')
		if i <= 0 {
			continue
		}
		out[line[:i]] = line[i+1:]
	}
	return out
}
