package util

import (
	"strings"
	"time"

	"github.com/ValentinKolb/dHA/lib/master"
	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables read by the cli
	EnvPrefix = "dha"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupClientFlags adds the flags of the master client to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "master-host"
	cmd.PersistentFlags().String(key, "localhost", WrapString("Host of the master (already resolved, no discovery is done)"))

	key = "master-port"
	cmd.PersistentFlags().Int(key, 6361, WrapString("Port of the master"))

	key = "local-id"
	cmd.PersistentFlags().String(key, "dha-cli", WrapString("Name of this client in log output"))

	key = "max-channels"
	cmd.PersistentFlags().Int(key, common.DefaultMaxConcurrentChannels, WrapString("Maximum number of concurrently open channels to the master"))

	key = "idle-cache"
	cmd.PersistentFlags().Int(key, common.DefaultIdleCacheSize, WrapString("Number of released channels that are kept open for reuse"))

	key = "response-timeout"
	cmd.PersistentFlags().Int(key, int(common.DefaultResponseTimeout/time.Second), WrapString("Time in seconds to wait for the response of a request"))

	key = "connect-timeout"
	cmd.PersistentFlags().Int(key, int(common.DefaultConnectTimeout/time.Second), WrapString("Time in seconds to wait for a new connection"))

	key = "lease-timeout"
	cmd.PersistentFlags().Int(key, 0, WrapString("Time in seconds to wait for a free channel (0 waits without limit)"))

	key = "read-buffer"
	cmd.PersistentFlags().Int(key, common.DefaultReadBufferSize/1024, WrapString("The size of the read buffer of each channel (in KB)"))

	key = "max-frame"
	cmd.PersistentFlags().Int(key, common.DefaultMaxFrameLength/1024, WrapString("The maximum size of a response frame (in KB)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval (in seconds, 0 uses the system default)"))

	key = "machine-id"
	cmd.PersistentFlags().Int32(key, 1, WrapString("Machine id of the slave sent in the slave context"))

	key = "event-id"
	cmd.PersistentFlags().Int32(key, 1, WrapString("Event identifier of the session sent in the slave context"))
}

// InitConfig loads the env files and configures viper to read environment
// variables (DHA_<FLAG>, e.g. DHA_MASTER_HOST)
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() common.ClientConfig {
	return common.ClientConfig{
		Host:                  viper.GetString("master-host"),
		Port:                  viper.GetInt("master-port"),
		LocalID:               viper.GetString("local-id"),
		MaxConcurrentChannels: viper.GetInt("max-channels"),
		IdleCacheSize:         viper.GetInt("idle-cache"),
		ReadBufferSize:        viper.GetInt("read-buffer") * 1024,
		MaxFrameLength:        viper.GetInt("max-frame") * 1024,
		ResponseTimeout:       time.Duration(viper.GetInt("response-timeout")) * time.Second,
		ConnectTimeout:        time.Duration(viper.GetInt("connect-timeout")) * time.Second,
		LeaseTimeout:          time.Duration(viper.GetInt("lease-timeout")) * time.Second,
		TCP: common.TCPConf{
			TCPNoDelay:      viper.GetBool("tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
		},
	}.WithDefaults()
}

// GetSlaveContext returns the slave context configured by the machine-id and
// event-id flags
func GetSlaveContext() master.SlaveContext {
	return master.SlaveContext{
		MachineID:       viper.GetInt32("machine-id"),
		EventIdentifier: viper.GetInt32("event-id"),
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
