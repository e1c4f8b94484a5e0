// Package config holds the configuration of the storage layer: where scope
// files live, which engine backs each scope kind and the transaction
// timeouts. The CLI fills it from flags and SKV_* environment variables.
package config
