package call

import (
	"github.com/ValentinKolb/sedarpc/cmd/util"
	"github.com/ValentinKolb/sedarpc/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcClient *client.RPCClient

	// CallCommands represents the client command group
	CallCommands = &cobra.Command{
		Use:                "call",
		Short:              "Send requests to a sedarpc server",
		PersistentPreRunE:  setupClient,
		PersistentPostRunE: closeClient,
	}
)

func init() {
	// Add common RPC flags to the call command
	util.SetupRPCClientFlags(CallCommands)

	// Add subcommands
	CallCommands.AddCommand(pingCmd)
	CallCommands.AddCommand(echoCmd)
	CallCommands.AddCommand(customCmd)
	CallCommands.AddCommand(benchCmd)
}

// setupClient initializes the RPC client
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := util.InitLogging(); err != nil {
		return err
	}

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	config := util.GetClientConfig()
	if cmd == benchCmd {
		if err := processBenchConfig(config); err != nil {
			return err
		}
	}

	// Create the client
	rpcClient, err = client.NewRPCClient(*config, s)
	return err
}

func closeClient(_ *cobra.Command, _ []string) error {
	if rpcClient == nil {
		return nil
	}
	return rpcClient.Close()
}
