// Package gabble assembles a node from its parts: config, the runtime, the
// workload engine, and the HTTP service.
package gabble

import (
	"fmt"
	"io"
	"os"

	"github.com/gabbleio/gabble/src/broadcast"
	"github.com/gabbleio/gabble/src/commitlog"
	"github.com/gabbleio/gabble/src/config"
	"github.com/gabbleio/gabble/src/counter"
	"github.com/gabbleio/gabble/src/echo"
	"github.com/gabbleio/gabble/src/node"
	"github.com/gabbleio/gabble/src/service"
	"github.com/gabbleio/gabble/src/uniqueid"
	"github.com/gabbleio/gabble/src/wire"
)

// Gabble is the top-level object holding one assembled node.
type Gabble struct {
	Config  *config.Config
	Node    *node.Node
	Service *service.Service

	// In and Out are the transport. They default to stdin and stdout, the
	// wiring the harness expects; tests swap in pipes.
	In  io.Reader
	Out io.Writer

	// source is the workload engine's stats contributor, merged into the
	// service's /stats document when both exist.
	source service.Source
}

// NewGabble is a factory method that returns an unassembled Gabble. Call
// Init before Run.
func NewGabble(config *config.Config) *Gabble {
	engine := &Gabble{
		Config: config,
	}

	return engine
}

func (g *Gabble) initNode() {
	if g.In == nil {
		g.In = os.Stdin
	}
	if g.Out == nil {
		g.Out = os.Stdout
	}

	g.Node = node.NewNode(g.Config, g.In, g.Out)
}

// initWorkload builds the engine named by the config and registers its
// handlers, init hooks, and timers with the runtime.
func (g *Gabble) initWorkload() error {
	logger := g.Config.Logger()

	switch g.Config.Workload {
	case config.WorkloadEcho:
		eng := echo.NewEngine(g.Node, logger.WithField("component", "echo"))

		g.Node.Handle(wire.KindEcho, eng.HandleEcho)

	case config.WorkloadUniqueIDs:
		eng := uniqueid.NewEngine(g.Node, logger.WithField("component", "uniqueid"))

		g.Node.Handle(wire.KindGenerate, eng.HandleGenerate)

	case config.WorkloadBroadcast:
		eng := broadcast.NewEngine(g.Config, g.Node, logger.WithField("component", "broadcast"))

		g.Node.Handle(wire.KindBroadcast, eng.HandleBroadcast)
		g.Node.Handle(wire.KindRead, eng.HandleRead)
		g.Node.Handle(wire.KindTopology, eng.HandleTopology)
		g.Node.OnInit(eng.Start)

		if g.Config.GossipPolicy == config.GossipBatch {
			g.Node.Every(g.Config.FlushInterval, eng.Flush)
		}

		g.source = eng

	case config.WorkloadGCounter:
		eng := counter.NewEngine(g.Config, g.Node, logger.WithField("component", "counter"))

		g.Node.Handle(wire.KindAdd, eng.HandleAdd)
		g.Node.Handle(wire.KindRead, eng.HandleRead)
		g.Node.OnInit(eng.Start)
		g.Node.Every(g.Config.RefreshInterval, eng.Refresh)

		g.source = eng

	case config.WorkloadKafka:
		eng := commitlog.NewEngine(g.Node, logger.WithField("component", "commitlog"))

		g.Node.Handle(wire.KindSend, eng.HandleSend)
		g.Node.Handle(wire.KindPoll, eng.HandlePoll)
		g.Node.Handle(wire.KindCommitOffsets, eng.HandleCommitOffsets)
		g.Node.Handle(wire.KindListCommittedOffsets, eng.HandleListCommittedOffsets)

		g.source = eng

	default:
		return fmt.Errorf("unknown workload %q (echo, unique-ids, broadcast, g-counter, kafka)",
			g.Config.Workload)
	}

	return nil
}

func (g *Gabble) initService() {
	if g.Config.NoService || g.Config.ServiceAddr == "" {
		return
	}

	g.Service = service.NewService(
		g.Config.ServiceAddr,
		g.Node,
		g.Config.Logger().WithField("component", "service"),
	)

	if g.source != nil {
		g.Service.AddSource(g.source)
	}
}

// Init assembles the node, the workload, and the service, in that order.
func (g *Gabble) Init() error {
	g.initNode()

	if err := g.initWorkload(); err != nil {
		return err
	}

	g.initService()

	return nil
}

// Run starts the HTTP service, when there is one, and blocks on the node
// runtime until the transport closes or something fatal happens.
func (g *Gabble) Run() error {
	if g.Service != nil {
		go g.Service.Serve()
	}

	return g.Node.Run()
}

// Shutdown stops the node. Safe to call more than once.
func (g *Gabble) Shutdown() {
	g.Node.Shutdown()
}
