// Package config defines the configuration for a gabble node.
//
// Regardless of how gabble is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. A node needs no
// configuration files to run: identity and the cluster roster arrive on stdin
// with the init message. If a data directory is set and contains a
// gabble.toml file, the run command loads configuration options from it.
package config
