package gabble

import (
	"os"

	"github.com/gabbleio/gabble/src/config"
)

// This example assembles a node for the echo workload on the standard
// transport. It illustrates how gabble is embedded from Go code; the run
// command does exactly this.
func Example() {
	// Start from default configuration.
	conf := config.NewDefaultConfig()

	// Select the handler set to register with the runtime. Identity and the
	// cluster roster are not configured here; they arrive on stdin with the
	// init message.
	conf.Workload = config.WorkloadEcho

	// Instantiate gabble. The transport defaults to stdin and stdout.
	engine := NewGabble(conf)

	// Assemble the node, the workload, and the HTTP service.
	if err := engine.Init(); err != nil {
		conf.Logger().Error("Cannot initialize gabble:", err)
		os.Exit(1)
	}

	// Run blocks until stdin closes or the node is shut down.
	if err := engine.Run(); err != nil {
		conf.Logger().Error(err)
		os.Exit(1)
	}
}
