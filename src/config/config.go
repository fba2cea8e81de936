package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/gabbleio/gabble/src/common"
)

// Workloads selectable with --workload.
const (
	WorkloadEcho      = "echo"
	WorkloadUniqueIDs = "unique-ids"
	WorkloadBroadcast = "broadcast"
	WorkloadGCounter  = "g-counter"
	WorkloadKafka     = "kafka"
)

// Gossip policies of the broadcast workload.
const (
	GossipDirect = "direct"
	GossipBatch  = "batch"
)

// Topology policies of the broadcast workload.
const (
	TopologyHarness = "harness"
	TopologyStride  = "stride"
)

// Default configuration values.
const (
	DefaultLogLevel        = "debug"
	DefaultWorkload        = WorkloadBroadcast
	DefaultServiceAddr     = "127.0.0.1:8000"
	DefaultGossipPolicy    = GossipDirect
	DefaultTopologyPolicy  = TopologyHarness
	DefaultStride          = 4
	DefaultRetryTimeout    = 1000 * time.Millisecond
	DefaultFlushInterval   = 250 * time.Millisecond
	DefaultRefreshInterval = 500 * time.Millisecond
	DefaultRetryWarn       = 16
	DefaultKVService       = "seq-kv"
)

// Config contains all the configuration properties of a gabble node.
type Config struct {
	// DataDir is the directory optionally containing a gabble.toml file.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output. Logs go to
	// stderr; stdout carries the message protocol and must stay clean.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, tees all log output to a file. Useful under the
	// harness, which multiplexes every node's stderr into one stream.
	LogFile string `mapstructure:"log-file"`

	// Workload selects the handler set registered with the runtime: echo,
	// unique-ids, broadcast, g-counter, or kafka.
	Workload string `mapstructure:"workload"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service exposing
	// runtime stats and Prometheus metrics.
	ServiceAddr string `mapstructure:"service-listen"`

	// GossipPolicy selects how the broadcast engine forwards values. With
	// direct, every newly learned value leaves immediately in its own
	// envelope and is retried individually until acknowledged. With batch,
	// values accumulate per neighbor and the outstanding buffer is flushed
	// as one envelope per neighbor per flush interval, which doubles as the
	// retry loop.
	GossipPolicy string `mapstructure:"gossip"`

	// TopologyPolicy selects the neighbor graph. harness adopts the graph
	// from the topology message as-is. stride ignores it and computes a
	// sparser partial mesh from the roster, trading propagation latency for
	// message volume.
	TopologyPolicy string `mapstructure:"topology"`

	// Stride is the partial-mesh spacing used by the stride topology.
	Stride int `mapstructure:"stride"`

	// RetryTimeout is how long the broadcast engine waits for an
	// acknowledgment before re-sending gossip with a fresh msg_id. It
	// should comfortably exceed one round trip under induced latency.
	RetryTimeout time.Duration `mapstructure:"retry-timeout"`

	// FlushInterval is the tick of the batch gossip policy.
	FlushInterval time.Duration `mapstructure:"flush-interval"`

	// RefreshInterval is the idle re-read tick of the g-counter workload:
	// when no adds are pending, the node polls peers and the kv service so
	// local reads converge after partitions.
	RefreshInterval time.Duration `mapstructure:"refresh-interval"`

	// RetryWarnThreshold is the attempt count past which an unacknowledged
	// gossip entry is logged as a warning. Retrying continues regardless;
	// delivery has no deadline, only the process lifetime.
	RetryWarnThreshold int `mapstructure:"retry-warn"`

	// KVService is the node id of the harness's sequentially consistent
	// key/value service used by the g-counter workload.
	KVService string `mapstructure:"kv-service"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:            DefaultDataDir(),
		LogLevel:           DefaultLogLevel,
		Workload:           DefaultWorkload,
		ServiceAddr:        DefaultServiceAddr,
		GossipPolicy:       DefaultGossipPolicy,
		TopologyPolicy:     DefaultTopologyPolicy,
		Stride:             DefaultStride,
		RetryTimeout:       DefaultRetryTimeout,
		FlushInterval:      DefaultFlushInterval,
		RefreshInterval:    DefaultRefreshInterval,
		RetryWarnThreshold: DefaultRetryWarn,
		KVService:          DefaultKVService,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t)
	return config
}

// Logger returns a formatted logrus Entry, with prefix set to "gabble". The
// logger writes to stderr, never to stdout, which belongs to the protocol.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Out = os.Stderr
		c.logger.Formatter = &prefixed.TextFormatter{
			FullTimestamp: true,
		}

		if c.LogFile != "" {
			c.hookLogFile()
		}
	}
	return c.logger.WithField("prefix", "gabble")
}

// hookLogFile tees every log level to c.LogFile.
func (c *Config) hookLogFile() {
	f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		c.logger.WithError(err).Error("Failed to open log file, using stderr only")
		return
	}
	f.Close()

	pathMap := lfshook.PathMap{}
	for _, level := range logrus.AllLevels {
		pathMap[level] = c.LogFile
	}

	c.logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))
}

// DefaultDataDir returns the default directory name for top-level gabble
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "GABBLE")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Gabble")
		} else {
			return filepath.Join(home, ".gabble")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
