package util

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ValentinKolb/sKV/lib/config"
	"github.com/ValentinKolb/sKV/lib/logging"
	"github.com/ValentinKolb/sKV/lib/notify"
	"github.com/ValentinKolb/sKV/lib/scope"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// SetupStorageFlags adds the storage configuration flags to a command
func SetupStorageFlags(cmd *cobra.Command) {
	def := config.Default()

	key := "data-dir"
	cmd.PersistentFlags().String(key, def.DataDir, WrapString("Directory holding one file per opened scope. Empty keeps everything in memory (maple only)"))

	key = "application-engine"
	cmd.PersistentFlags().String(key, string(def.ApplicationEngine), WrapString("Engine of the application scope (maple, bolt, sqlite)"))

	key = "workspace-engine"
	cmd.PersistentFlags().String(key, string(def.WorkspaceEngine), WrapString("Engine of workspace scopes (maple, bolt, sqlite)"))

	key = "collection-engine"
	cmd.PersistentFlags().String(key, string(def.CollectionEngine), WrapString("Engine of collection scopes (maple, bolt, sqlite)"))

	key = "open-timeout"
	cmd.PersistentFlags().Duration(key, def.OpenTimeout, WrapString("How long opening a scope waits for its file lock"))

	key = "write-timeout"
	cmd.PersistentFlags().Duration(key, def.WriteTimeout, WrapString("How long a write waits for the writer slot of its scope"))

	key = "retries"
	cmd.PersistentFlags().Int(key, def.CommitRetries, WrapString("Attempts of a read-modify-write that keeps conflicting"))

	key = "sync"
	cmd.PersistentFlags().Bool(key, def.SyncOnCommit, WrapString("Make every commit durable before returning"))

	key = "log-level"
	cmd.PersistentFlags().String(key, def.LogLevel, WrapString("Log level (debug, info, warn, error)"))
}

// InitConfig loads .env files and sets up viper to read SKV_* environment
// variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("skv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetConfig reads the storage configuration from viper and validates it
func GetConfig() (*config.Config, error) {
	conf := &config.Config{
		DataDir:           viper.GetString("data-dir"),
		ApplicationEngine: config.Engine(strings.ToLower(viper.GetString("application-engine"))),
		WorkspaceEngine:   config.Engine(strings.ToLower(viper.GetString("workspace-engine"))),
		CollectionEngine:  config.Engine(strings.ToLower(viper.GetString("collection-engine"))),
		OpenTimeout:       viper.GetDuration("open-timeout"),
		WriteTimeout:      viper.GetDuration("write-timeout"),
		CommitRetries:     viper.GetInt("retries"),
		SyncOnCommit:      viper.GetBool("sync"),
		LogLevel:          viper.GetString("log-level"),
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return conf, nil
}

// OpenEnv initialises logging and opens a registry for conf. The returned
// close function releases every opened scope.
func OpenEnv(ctx context.Context, conf *config.Config) (store.Env, func() error, error) {
	if err := logging.InitLoggers(conf.LogLevel); err != nil {
		return store.Env{}, nil, err
	}

	reg, err := scope.NewRegistry(ctx, scope.NewOpener(conf), scope.WithWriteTimeout(conf.WriteTimeout))
	if err != nil {
		return store.Env{}, nil, err
	}
	hub := notify.NewHub()

	closeFn := func() error {
		hub.Close()
		return reg.CloseAll(context.WithoutCancel(ctx))
	}
	return store.Env{Registry: reg, Hub: hub, Retries: conf.CommitRetries}, closeFn, nil
}

// --------------------------------------------------------------------------
// Output
// --------------------------------------------------------------------------

// Output formats accepted by the --output flag
const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// SetupOutputFlag adds the --output flag to a command
func SetupOutputFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP("output", "o", OutputText, WrapString("Output format (text, json, yaml)"))
}

// Print writes v to w in the given format. For text, v is printed with text
// if set, else with fmt's default format.
func Print(w io.Writer, format string, v any, text func(io.Writer) error) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case OutputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case OutputText, "":
		if text != nil {
			return text(w)
		}
		_, err := fmt.Fprintln(w, v)
		return err
	default:
		return fmt.Errorf("invalid output format %q (expected text, json or yaml)", format)
	}
}
