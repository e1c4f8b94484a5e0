package kv

import (
	"fmt"
	"io"

	"github.com/ValentinKolb/sKV/cmd/util"
	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/ValentinKolb/sKV/lib/segkey"
	"github.com/spf13/cobra"
)

// entry is the printed form of a stored value
type entry struct {
	Key   string `json:"key" yaml:"key"`
	Found bool   `json:"found" yaml:"found"`
	Value any    `json:"value,omitempty" yaml:"value,omitempty"`
}

func parseKey(arg string) (segkey.SegKeyBuf, error) {
	key := segkey.Parse(arg)
	if key.IsZero() {
		return key, fmt.Errorf("key must not be empty")
	}
	return key, nil
}

func toEntry(key segkey.SegKeyBuf, raw []byte, found bool) (entry, error) {
	e := entry{Key: key.String(), Found: found}
	if !found {
		return e, nil
	}
	v, err := codec.decode(raw)
	if err != nil {
		return e, fmt.Errorf("%s: %w", key, err)
	}
	e.Value = v
	return e, nil
}

func printEntry(cmd *cobra.Command, e entry) error {
	return util.Print(cmd.OutOrStdout(), output, e, func(w io.Writer) error {
		if !e.Found {
			_, err := fmt.Fprintf(w, "key=%s, found=false\n", e.Key)
			return err
		}
		_, err := fmt.Fprintf(w, "key=%s, found=true, value=%v\n", e.Key, e.Value)
		return err
	})
}

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0])
			if err != nil {
				return err
			}
			b, err := env.Registry.Resolve(ctx(cmd), target)
			if err != nil {
				return err
			}

			var (
				raw   []byte
				found bool
			)
			err = db.View(ctx(cmd), b, func(tx db.Tx) error {
				raw, found, err = tbl.Get(tx, key)
				return err
			})
			if err != nil {
				return err
			}
			e, err := toEntry(key, raw, found)
			if err != nil {
				return err
			}
			return printEntry(cmd, e)
		},
	}
	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0])
			if err != nil {
				return err
			}
			raw, err := codec.encode(args[1])
			if err != nil {
				return err
			}
			b, err := env.Registry.Resolve(ctx(cmd), target)
			if err != nil {
				return err
			}
			if err := db.Update(ctx(cmd), b, func(tx db.Tx) error {
				return tbl.Put(tx, key, raw)
			}); err != nil {
				return err
			}
			return util.Print(cmd.OutOrStdout(), output, entry{Key: key.String(), Found: true}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, "put successfully")
				return err
			})
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair and prints the removed value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0])
			if err != nil {
				return err
			}
			b, err := env.Registry.Resolve(ctx(cmd), target)
			if err != nil {
				return err
			}

			var (
				raw   []byte
				found bool
			)
			err = db.Update(ctx(cmd), b, func(tx db.Tx) error {
				raw, found, err = tbl.Remove(tx, key)
				return err
			})
			if err != nil {
				return err
			}
			e, err := toEntry(key, raw, found)
			if err != nil {
				return err
			}
			return printEntry(cmd, e)
		},
	}
	scanCmd = &cobra.Command{
		Use:   "scan [prefix]",
		Short: "Lists all entries below a key (or the whole table)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			var prefix []byte
			if len(args) == 1 && args[0] != "" {
				key, err := parseKey(args[0])
				if err != nil {
					return err
				}
				prefix = key.Prefix()
			}
			b, err := env.Registry.Resolve(ctx(cmd), target)
			if err != nil {
				return err
			}

			var entries []entry
			err = db.View(ctx(cmd), b, func(tx db.Tx) error {
				entries = entries[:0]
				for e, err := range tbl.ScanBytes(tx, prefix) {
					if err != nil {
						return err
					}
					out, err := toEntry(e.Key, e.Value, true)
					if err != nil {
						return err
					}
					entries = append(entries, out)
					if limit > 0 && len(entries) >= limit {
						break
					}
				}
				return nil
			})
			if err != nil {
				return err
			}

			return util.Print(cmd.OutOrStdout(), output, entries, func(w io.Writer) error {
				for _, e := range entries {
					if _, err := fmt.Fprintf(w, "%s = %v\n", e.Key, e.Value); err != nil {
						return err
					}
				}
				_, err := fmt.Fprintf(w, "(%d entries)\n", len(entries))
				return err
			})
		},
	}
	tablesCmd = &cobra.Command{
		Use:   "tables",
		Short: "Shows the backend of the scope and its tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := env.Registry.Resolve(ctx(cmd), target)
			if err != nil {
				return err
			}
			info := b.Info()
			return util.Print(cmd.OutOrStdout(), output, info, func(w io.Writer) error {
				fmt.Fprintf(w, "scope:    %s\n", target)
				fmt.Fprintf(w, "engine:   %s\n", info.DbType)
				if info.Path != "" {
					fmt.Fprintf(w, "path:     %s\n", info.Path)
				}
				fmt.Fprintf(w, "size:     %d bytes\n", info.SizeBytes)
				fmt.Fprintf(w, "features: %v\n", info.SupportedFeatures)
				for _, t := range info.Tables {
					fmt.Fprintf(w, "  - %s\n", t)
				}
				return nil
			})
		},
	}
)

func init() {
	scanCmd.Flags().Int("limit", 0, util.WrapString("Stop after this many entries (0 = all)"))
}
