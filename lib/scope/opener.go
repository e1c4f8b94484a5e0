package scope

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/ValentinKolb/sKV/lib/config"
	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/db/engines/bolt"
	"github.com/ValentinKolb/sKV/lib/db/engines/maple"
	"github.com/ValentinKolb/sKV/lib/db/engines/sqlite"
)

// OpenFunc opens the backend of a scope. It is called at most once per scope
// at a time; the registry owns the result.
type OpenFunc func(ctx context.Context, s Scope) (db.Backend, error)

// ValidateID rejects ids that cannot name a scope file.
func ValidateID(id string) error {
	switch id {
	case "", ".", "..":
		return fmt.Errorf("invalid scope id %q", id)
	}
	return nil
}

// Path returns the container file of s below dataDir:
//
//	<dataDir>/application<ext>
//	<dataDir>/workspaces/<escaped id><ext>
//	<dataDir>/collections/<escaped id><ext>
//
// Distinct ids map to distinct files.
func Path(dataDir string, engine config.Engine, s Scope) (string, error) {
	switch s.Kind() {
	case KindApplication:
		return filepath.Join(dataDir, "application"+engine.Extension()), nil
	case KindWorkspace, KindCollection:
		if err := ValidateID(s.ID()); err != nil {
			return "", err
		}
		return filepath.Join(dataDir, s.Kind().String()+"s", url.PathEscape(s.ID())+engine.Extension()), nil
	default:
		return "", fmt.Errorf("invalid scope %v", s)
	}
}

// EngineFor returns the engine configured for the kind of s.
func EngineFor(cfg *config.Config, s Scope) config.Engine {
	switch s.Kind() {
	case KindWorkspace:
		return cfg.WorkspaceEngine
	case KindCollection:
		return cfg.CollectionEngine
	default:
		return cfg.ApplicationEngine
	}
}

// NewOpener returns an OpenFunc that opens the engine configured for the
// scope's kind at the scope's path. The engine is chosen here, once per
// backend; nothing above the db.Backend interface knows which one it got.
func NewOpener(cfg *config.Config) OpenFunc {
	return func(ctx context.Context, s Scope) (db.Backend, error) {
		if err := ctx.Err(); err != nil {
			return nil, db.WrapError(db.ErrCUnavailable, err, "open %s", s)
		}

		engine := EngineFor(cfg, s)
		var path string
		if !cfg.InMemory() {
			p, err := Path(cfg.DataDir, engine, s)
			if err != nil {
				return nil, err
			}
			path = p
		} else if s.Kind() != KindApplication {
			// ids are still validated so behaviour does not depend on the data dir
			if err := ValidateID(s.ID()); err != nil {
				return nil, err
			}
		}

		switch engine {
		case config.EngineMaple:
			return maple.NewMapleDB(&maple.Options{
				Path:         path,
				SyncOnCommit: cfg.SyncOnCommit && path != "",
			})
		case config.EngineBolt:
			return bolt.NewBoltDB(&bolt.Options{
				Path:    path,
				Timeout: cfg.OpenTimeout,
				NoSync:  !cfg.SyncOnCommit,
			})
		case config.EngineSQLite:
			return sqlite.NewSQLiteDB(&sqlite.Options{
				Path:        path,
				BusyTimeout: cfg.OpenTimeout,
				NoSync:      !cfg.SyncOnCommit,
			})
		default:
			return nil, fmt.Errorf("invalid engine %q for %s", engine, s)
		}
	}
}
