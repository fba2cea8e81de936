package commands

import (
	"github.com/gabbleio/gabble/src/gabble"
	"github.com/gabbleio/gabble/src/telemetry"
	"github.com/gabbleio/gabble/src/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a gabble node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runGabble,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runGabble(cmd *cobra.Command, args []string) error {
	telemetry.SetBuildInfo(version.Version, version.GitCommit)

	engine := gabble.NewGabble(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	return engine.Run()
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "Tee logs into a file, next to stderr")

	// Workload
	cmd.Flags().StringP("workload", "w", _config.Workload, "echo, unique-ids, broadcast, g-counter, kafka")

	// Service
	cmd.Flags().Bool("no-service", _config.NoService, "Do not serve the HTTP API")
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")

	// Broadcast
	cmd.Flags().String("gossip", _config.GossipPolicy, "direct or batch gossip")
	cmd.Flags().String("topology", _config.TopologyPolicy, "harness or stride neighbor graph")
	cmd.Flags().Int("stride", _config.Stride, "Spacing of the stride neighbor graph")
	cmd.Flags().DurationP("retry-timeout", "t", _config.RetryTimeout, "Time to wait for a gossip ack before re-sending")
	cmd.Flags().Duration("flush-interval", _config.FlushInterval, "Tick of the batch gossip flusher")
	cmd.Flags().Int("retry-warn", _config.RetryWarnThreshold, "Attempts before an unacknowledged value is logged as a warning")

	// Counter
	cmd.Flags().Duration("refresh-interval", _config.RefreshInterval, "Idle poll tick of the g-counter workload")
	cmd.Flags().String("kv-service", _config.KVService, "Node id of the sequential key/value service")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	logFields := logrus.Fields{
		"gabble.DataDir":            _config.DataDir,
		"gabble.LogLevel":           _config.LogLevel,
		"gabble.LogFile":            _config.LogFile,
		"gabble.Workload":           _config.Workload,
		"gabble.NoService":          _config.NoService,
		"gabble.ServiceAddr":        _config.ServiceAddr,
		"gabble.GossipPolicy":       _config.GossipPolicy,
		"gabble.TopologyPolicy":     _config.TopologyPolicy,
		"gabble.Stride":             _config.Stride,
		"gabble.RetryTimeout":       _config.RetryTimeout,
		"gabble.FlushInterval":      _config.FlushInterval,
		"gabble.RefreshInterval":    _config.RefreshInterval,
		"gabble.RetryWarnThreshold": _config.RetryWarnThreshold,
		"gabble.KVService":          _config.KVService,
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/gabble.toml (.json, .yaml also work)
	viper.SetConfigName("gabble")        // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
