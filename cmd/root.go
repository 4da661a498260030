package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/ValentinKolb/sedarpc/cmd/call"
	"github.com/ValentinKolb/sedarpc/cmd/serve"
	"github.com/ValentinKolb/sedarpc/cmd/util"
	"github.com/ValentinKolb/sedarpc/rpc/serializer"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "sedarpc",
		Short: "asynchronous RPC transport",
		Long: fmt.Sprintf(`sedarpc (v%s)

An asynchronous RPC transport for Linux written in Go. Requests carry an
optional attachment and file payload and are multiplexed over persistent
connections driven by edge-triggered epoll.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of sedarpc",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sedarpc v%s\n", Version)
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(call.CallCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString(fmt.Sprintf("serializer to use (%s)", strings.Join(serializer.Names, ", "))))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
