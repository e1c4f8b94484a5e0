package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/logging"
)

// --------------------------------------------------------------------------
// Engines
// --------------------------------------------------------------------------

// Engine selects the backend implementation of a storage scope kind.
type Engine string

const (
	EngineMaple  Engine = Engine(db.ImplMaple)
	EngineBolt   Engine = Engine(db.ImplBolt)
	EngineSQLite Engine = Engine(db.ImplSQLite)
)

// Engines lists all known engines.
var Engines = []Engine{EngineMaple, EngineBolt, EngineSQLite}

// ParseEngine returns the engine with the given name (case-insensitive).
func ParseEngine(name string) (Engine, error) {
	e := Engine(strings.ToLower(strings.TrimSpace(name)))
	switch e {
	case EngineMaple, EngineBolt, EngineSQLite:
		return e, nil
	}
	return "", fmt.Errorf("invalid engine %q (expected one of: maple, bolt, sqlite)", name)
}

// Extension is the file extension of the engine's container file.
func (e Engine) Extension() string {
	switch e {
	case EngineMaple:
		return ".snap"
	case EngineBolt:
		return ".bolt"
	case EngineSQLite:
		return ".sqlite"
	default:
		return ".db"
	}
}

// --------------------------------------------------------------------------
// Storage configuration struct
// --------------------------------------------------------------------------

// Config holds all parameters of the storage layer.
type Config struct {
	// Directory holding one container file per opened scope.
	// Empty means in-memory only, which requires maple for every scope kind.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Engine per scope kind
	ApplicationEngine Engine `json:"application_engine" yaml:"application_engine"`
	WorkspaceEngine   Engine `json:"workspace_engine" yaml:"workspace_engine"`
	CollectionEngine  Engine `json:"collection_engine" yaml:"collection_engine"`

	// How long opening a backend may wait for its file lock
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout"`
	// How long a write waits for the writer slot
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	// Attempts of a read-modify-write unit that keeps conflicting
	CommitRetries int `json:"commit_retries" yaml:"commit_retries"`
	// maple: write the snapshot after every commit instead of at close;
	// bolt/sqlite: fsync every commit (false skips it)
	SyncOnCommit bool `json:"sync_on_commit" yaml:"sync_on_commit"`

	// Logging configuration
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		DataDir:           "data",
		ApplicationEngine: EngineBolt,
		WorkspaceEngine:   EngineBolt,
		CollectionEngine:  EngineBolt,
		OpenTimeout:       time.Second,
		WriteTimeout:      5 * time.Second,
		CommitRetries:     db.DefaultRetries,
		SyncOnCommit:      true,
		LogLevel:          "info",
	}
}

// Validate checks the configuration and returns all problems at once.
func (c *Config) Validate() error {
	var errs []error
	for _, e := range []struct {
		kind   string
		engine Engine
	}{
		{"application", c.ApplicationEngine},
		{"workspace", c.WorkspaceEngine},
		{"collection", c.CollectionEngine},
	} {
		if _, err := ParseEngine(string(e.engine)); err != nil {
			errs = append(errs, fmt.Errorf("%s engine: %w", e.kind, err))
			continue
		}
		if c.DataDir == "" && e.engine != EngineMaple {
			errs = append(errs, fmt.Errorf("%s engine %s needs a data directory", e.kind, e.engine))
		}
	}
	if c.OpenTimeout < 0 {
		errs = append(errs, errors.New("open timeout must not be negative"))
	}
	if c.WriteTimeout < 0 {
		errs = append(errs, errors.New("write timeout must not be negative"))
	}
	if c.CommitRetries < 0 {
		errs = append(errs, errors.New("commit retries must not be negative"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// InMemory reports whether nothing is written to disk.
func (c *Config) InMemory() bool {
	return c.DataDir == ""
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Storage")
	if c.InMemory() {
		addField("Data Directory", "(in-memory)")
	} else {
		addField("Data Directory", c.DataDir)
	}
	addField("Sync On Commit", fmt.Sprintf("%t", c.SyncOnCommit))

	addSection("Engines")
	addField("Application", string(c.ApplicationEngine))
	addField("Workspace", string(c.WorkspaceEngine))
	addField("Collection", string(c.CollectionEngine))

	addSection("Transactions")
	addField("Open Timeout", c.OpenTimeout.String())
	addField("Write Timeout", c.WriteTimeout.String())
	addField("Commit Retries", fmt.Sprintf("%d", c.CommitRetries))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
