package serve

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dHA/cmd/util"
	"github.com/ValentinKolb/dHA/lib/master"
	"github.com/ValentinKolb/dHA/rpc/common"
	"github.com/ValentinKolb/dHA/rpc/server"
	"github.com/ValentinKolb/dHA/rpc/transport/tcp"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Logger = logger.GetLogger("cmd")

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start an in-memory master",
		Long:    `Start an in-memory reference master speaking the master protocol over TCP. The configuration can be set via command line flags or environment variables. The format of the environment variables is DHA_<flag> (e.g. DHA_MASTER_ID=2)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:6361", cmdUtil.WrapString("The address on which the master will listen (host:port)"))

	key = "master-id"
	ServeCmd.PersistentFlags().Int32(key, 1, cmdUtil.WrapString("The machine id reported for every transaction committed on this master"))

	key = "id-grab-size"
	ServeCmd.PersistentFlags().Int(key, common.DefaultIdGrabSize, cmdUtil.WrapString("Number of ids handed out per allocation"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int(key, int(common.DefaultServerTimeout/time.Second), cmdUtil.WrapString("Timeout in seconds for handling one request"))

	key = "max-workers"
	ServeCmd.PersistentFlags().Int(key, common.DefaultServerMaxWorkers, cmdUtil.WrapString("Maximum number of requests handled at the same time"))

	key = "read-buffer"
	ServeCmd.PersistentFlags().Int(key, common.DefaultReadBufferSize/1024, cmdUtil.WrapString("The size of the read buffer of each connection (in KB)"))

	key = "max-frame"
	ServeCmd.PersistentFlags().Int(key, common.DefaultMaxFrameLength/1024, cmdUtil.WrapString("The maximum size of a request frame (in KB)"))

	key = "stats-interval"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Interval in seconds in which the master metrics are logged (0 disables it)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.MasterID = viper.GetInt32("master-id")
	serveCmdConfig.IdGrabSize = viper.GetInt("id-grab-size")
	serveCmdConfig.Timeout = time.Duration(viper.GetInt("timeout")) * time.Second
	serveCmdConfig.MaxWorkers = viper.GetInt("max-workers")
	serveCmdConfig.ReadBufferSize = viper.GetInt("read-buffer") * 1024
	serveCmdConfig.MaxFrameLength = viper.GetInt("max-frame") * 1024
	serveCmdConfig.StatsInterval = time.Duration(viper.GetInt("stats-interval")) * time.Second
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if serveCmdConfig.Endpoint == "" {
		return fmt.Errorf("no endpoint provided")
	}
	if serveCmdConfig.IdGrabSize <= 0 {
		return fmt.Errorf("invalid id grab size %d", serveCmdConfig.IdGrabSize)
	}
	return nil
}

// run starts the master and serves it until the process is interrupted
func run(_ *cobra.Command, _ []string) error {
	config := serveCmdConfig.WithDefaults()

	m := master.NewMemoryMaster(config.MasterID, config.IdGrabSize)
	serv := server.NewRPCServer(
		config,
		tcp.NewTCPServerTransport(config),
		m,
	)

	done := make(chan struct{})
	defer close(done)

	if config.StatsInterval > 0 {
		go logStats(m.Registry(), config.StatsInterval, done)
	}

	// close the server on SIGINT / SIGTERM
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		select {
		case sig := <-signals:
			Logger.Infof("received %s, shutting down", sig)
			_ = serv.Close()
		case <-done:
		}
	}()

	return serv.Serve()
}

// statsLogger writes go-metrics log lines to the logger of the command
type statsLogger struct{}

func (statsLogger) Printf(format string, v ...interface{}) {
	Logger.Infof("%s", strings.TrimSuffix(fmt.Sprintf(format, v...), "\n"))
}

// logStats logs the metrics of the master every interval until done is closed
func logStats(r gometrics.Registry, interval time.Duration, done <-chan struct{}) {
	cue := make(chan interface{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer close(cue)
		for {
			select {
			case <-ticker.C:
				select {
				case cue <- struct{}{}:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()
	gometrics.LogOnCue(r, cue, statsLogger{})
}
