package commands

import (
	"github.com/gabbleio/gabble/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for gabble
var RootCmd = &cobra.Command{
	Use:              "gabble",
	Short:            "gabble node",
	TraverseChildren: true,
}
