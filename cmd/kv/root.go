package kv

import (
	"context"
	"fmt"
	"os"

	"github.com/ValentinKolb/sKV/cmd/util"
	"github.com/ValentinKolb/sKV/lib/scope"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/lib/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	env      store.Env
	closeEnv func() error
	target   scope.Scope
	tbl      table.Table[[]byte]
	codec    valueCodec
	output   string

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:   "kv",
		Short: "Read and write raw entries of a scope",
		Long: util.WrapString(`Read and write raw entries of a scope. Keys are given in their display
form with segments separated by "/" (e.g. entry/1/order).`),
		PersistentPreRunE: setupKV,
	}
)

func init() {
	KeyValueCommands.PersistentFlags().String("scope", scope.Application().String(), util.WrapString("Scope to operate on (application, workspace:<id>, collection:<id>)"))
	KeyValueCommands.PersistentFlags().String("table", "items", util.WrapString("Table to operate on"))
	KeyValueCommands.PersistentFlags().String("codec", codecRaw, util.WrapString("How values are given and shown (raw, json, cbor). cbor values are given and shown as JSON"))
	util.SetupOutputFlag(KeyValueCommands)

	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(putCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(scanCmd)
	KeyValueCommands.AddCommand(tablesCmd)
	KeyValueCommands.AddCommand(perfTestCmd)

	cobra.OnFinalize(func() {
		if closeEnv == nil {
			return
		}
		if err := closeEnv(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing storage: %v\n", err)
		}
		closeEnv = nil
	})
}

// setupKV reads the configuration and opens the registry
func setupKV(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	if target, err = scope.Parse(viper.GetString("scope")); err != nil {
		return err
	}
	if codec, err = parseCodec(viper.GetString("codec")); err != nil {
		return err
	}
	output = viper.GetString("output")

	name := viper.GetString("table")
	if name == "" {
		return fmt.Errorf("table name required")
	}
	tbl = table.New(name, table.Bytes())

	conf, err := util.GetConfig()
	if err != nil {
		return err
	}
	env, closeEnv, err = util.OpenEnv(ctx(cmd), conf)
	return err
}

// ctx returns the command context, or background if cobra did not set one
func ctx(cmd *cobra.Command) context.Context {
	if c := cmd.Context(); c != nil {
		return c
	}
	return context.Background()
}
