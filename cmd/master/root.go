package master

import (
	"github.com/ValentinKolb/dHA/cmd/util"
	"github.com/ValentinKolb/dHA/rpc/client"
	"github.com/ValentinKolb/dHA/rpc/transport/tcp"
	"github.com/spf13/cobra"
)

var (
	masterClient *client.MasterClient

	// MasterCommands represents the master command group
	MasterCommands = &cobra.Command{
		Use:                "master",
		Short:              "Perform operations against a master",
		Long:               `Perform operations against a running master as a slave would. The master is configured with the --master-host and --master-port flags or the environment variables DHA_MASTER_HOST and DHA_MASTER_PORT.`,
		PersistentPreRunE:  setupMasterClient,
		PersistentPostRunE: shutdownMasterClient,
	}
)

func init() {
	// Add the client flags to the master command
	util.SetupClientFlags(MasterCommands)

	// Add subcommands
	MasterCommands.AddCommand(allocateIdsCmd)
	MasterCommands.AddCommand(relTypeCmd)
	MasterCommands.AddCommand(lockCmd)
	MasterCommands.AddCommand(commitCmd)
	MasterCommands.AddCommand(pullCmd)
	MasterCommands.AddCommand(masterIdCmd)
	MasterCommands.AddCommand(perfTestCmd)
}

// setupMasterClient initializes the master client
func setupMasterClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	masterClient, err = client.NewMasterClient(util.GetClientConfig(), tcp.NewTCPClientConnector())
	return err
}

// shutdownMasterClient closes all channels of the client
func shutdownMasterClient(_ *cobra.Command, _ []string) error {
	if masterClient != nil {
		masterClient.Shutdown()
	}
	return nil
}
