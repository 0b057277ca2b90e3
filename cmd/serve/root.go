package serve

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dIPC/cmd/util"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/prefork"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
)

var Logger = logger.GetLogger("ipc")

var (
	serveCmdConfig  = &common.ServerConfig{}
	loopConfig      = common.LoopConfig{}
	preforkConfig   = common.PreforkConfig{}
	metricsEndpoint string
	forwardEndpoint string
	eventTopics     []string
	statsInterval   time.Duration

	ServeCmd = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dIPC server",
		Long:    `Start the dIPC server with the specified configuration. With --workers > 0 the endpoint is bound once and shared by that many worker processes (prefork), otherwise it is served by this process. The configuration can be set via command line flags or environment variables. The format of the environment variables is DIPC_<flag> (e.g. DIPC_LOOP_WORKERS=4)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	addServerFlags(ServeCmd)

	key := "workers"
	ServeCmd.PersistentFlags().Int(key, 0, util.WrapString("Number of worker processes sharing the endpoint (prefork). 0 serves the endpoint in this process"))

	key = "stop-timeout"
	ServeCmd.PersistentFlags().Int(key, common.DefaultStopTimeoutSecond, util.WrapString("Seconds to wait for workers to exit after SIGTERM before they are killed"))
}

// addServerFlags adds the flags shared by serve and worker
func addServerFlags(cmd *cobra.Command) {
	key := "endpoint"
	cmd.PersistentFlags().String(key, util.DefaultEndpoint, util.WrapString("The address on which the server will listen: a socket path for the unix transport, host:port for tcp"))

	key = "timeout"
	cmd.PersistentFlags().Int64(key, 0, util.WrapString("Idle read timeout per connection in seconds (0 disables it)"))

	key = "max-frame-size"
	cmd.PersistentFlags().Int(key, common.DefaultMaxFrameSize/1024, util.WrapString("Largest accepted frame (in KB). Connections announcing a larger frame are closed"))

	key = "read-buffer"
	cmd.PersistentFlags().Int(key, common.DefaultReadBufferSize/1024, util.WrapString("The size of the per connection read buffer (in KB)"))

	key = "socket-mode"
	cmd.PersistentFlags().String(key, fmt.Sprintf("%#o", common.DefaultSocketMode), util.WrapString("File mode of the socket file (octal, only for unix)"))

	key = "loop-workers"
	cmd.PersistentFlags().Int(key, 0, util.WrapString("Number of goroutines running handlers per process (0 uses the number of CPUs). Each connection is served by one of them, so its messages are handled in order"))

	key = "queue-size"
	cmd.PersistentFlags().Int(key, common.DefaultLoopQueueSize, util.WrapString("Capacity of the handler queue, split between the loop workers. Reading from a connection pauses while its queue is full"))

	key = "topics"
	cmd.PersistentFlags().String(key, "ipc", util.WrapString("Comma-separated list of event tags whose messages are logged"))

	key = "forward"
	cmd.PersistentFlags().String(key, "", util.WrapString("Optional endpoint every received message is forwarded to (same transport and serializer)"))

	key = "metrics-endpoint"
	cmd.PersistentFlags().String(key, "", util.WrapString("Optional host:port serving metrics in Prometheus format at /metrics. Prefork worker n uses port+n"))

	key = "stats-interval"
	cmd.PersistentFlags().Int(key, 0, util.WrapString("Interval in seconds at which handler statistics are logged (0 disables it)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// parse socket mode
	mode, err := strconv.ParseUint(viper.GetString("socket-mode"), 8, 32)
	if err != nil {
		return fmt.Errorf("invalid socket mode %s: %v", viper.GetString("socket-mode"), err)
	}

	serveCmdConfig.Transport = common.ServerTransportConfig{
		Endpoint:     viper.GetString("endpoint"),
		MaxFrameSize: viper.GetInt("max-frame-size") * 1024,
		SocketMode:   uint32(mode),
		SocketConf: common.SocketConf{
			ReadBufferSize: viper.GetInt("read-buffer") * 1024,
		},
	}
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	loopConfig = common.LoopConfig{
		Workers:   viper.GetInt("loop-workers"),
		QueueSize: viper.GetInt("queue-size"),
	}
	preforkConfig = common.PreforkConfig{
		Workers:           viper.GetInt("workers"),
		StopTimeoutSecond: viper.GetInt("stop-timeout"),
	}
	if preforkConfig.Workers < 0 {
		return fmt.Errorf("invalid number of workers: %d", preforkConfig.Workers)
	}

	metricsEndpoint = viper.GetString("metrics-endpoint")
	statsInterval = time.Duration(viper.GetInt("stats-interval")) * time.Second

	forwardEndpoint = viper.GetString("forward")
	if forwardEndpoint != "" && forwardEndpoint == serveCmdConfig.Transport.Endpoint {
		return fmt.Errorf("cannot forward to the served endpoint %s", forwardEndpoint)
	}

	eventTopics = eventTopics[:0]
	for _, topic := range strings.Split(viper.GetString("topics"), ",") {
		if topic = strings.TrimSpace(topic); topic != "" {
			eventTopics = append(eventTopics, topic)
		}
	}

	return nil
}

// run starts the dIPC server
func run(cmd *cobra.Command, _ []string) error {
	if err := common.InitLoggers(serveCmdConfig.LogLevel); err != nil {
		return err
	}

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	server, err := util.GetServerTransport(*serveCmdConfig, s)
	if err != nil {
		return err
	}

	fmt.Println(serveCmdConfig.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Single process: bind and serve here
	if preforkConfig.Workers == 0 {
		if err := server.Start(serveCmdConfig.Transport.Endpoint); err != nil {
			return err
		}
		return serve(ctx, server, s, -1)
	}

	fmt.Println(preforkConfig.String())

	// The workers read their configuration from the environment
	if err := util.ExportFlags(cmd); err != nil {
		return fmt.Errorf("failed to export configuration: %v", err)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %v", err)
	}

	manager := prefork.NewManager(server, preforkConfig)
	if err := manager.Start(context.Background(), []string{exe, WorkerCmd.Name()}); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- manager.Wait()
	}()

	select {
	case <-ctx.Done():
		Logger.Infof("Shutting down %d workers", preforkConfig.Workers)
		stopErr := manager.Stop()
		return errors.Join(stopErr, <-done)
	case err := <-done:
		// all workers exited on their own
		return errors.Join(err, manager.Stop())
	}
}
