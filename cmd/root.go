package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dHA/cmd/master"
	"github.com/ValentinKolb/dHA/cmd/serve"
	"github.com/ValentinKolb/dHA/cmd/util"
	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dha",
		Short: "HA master client and reference master",
		Long: fmt.Sprintf(`dHA (v%s)

The slave side of a high availability cluster: a client forwarding
id allocation, locking, commits and update pulls to the master over
a bounded pool of TCP channels, and an in-memory reference master.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: initLogging,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dHA",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dHA v%s\n", Version)
		},
	}
)

func init() {
	// run the persistent hooks of all parents (logging before the client setup)
	cobra.EnableTraverseRunHooks = true

	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(master.MasterCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// initLogging sets the level of all loggers
func initLogging(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlag("log-level", cmd.Flags().Lookup("log-level")); err != nil {
		return err
	}
	return common.InitLoggers(viper.GetString("log-level"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
