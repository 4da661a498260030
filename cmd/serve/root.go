package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/sedarpc/cmd/util"
	"github.com/ValentinKolb/sedarpc/rpc/common"
	"github.com/ValentinKolb/sedarpc/rpc/server"
	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the sedarpc server",
		Long:    `Start the sedarpc server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is SEDARPC_<flag> (e.g. SEDARPC_STAGE_WORKERS=32)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:7070", cmdUtil.WrapString("The address on which the server will listen (e.g. localhost:7070, 0.0.0.0:0 for a random port)"))

	key = "stage-workers"
	ServeCmd.PersistentFlags().Int(key, 64, cmdUtil.WrapString("Maximum number of requests handled concurrently"))

	key = "file-dir"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Directory for inbound file payloads. Without one, file payloads are received and discarded"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address to serve Prometheus metrics on under /metrics (e.g. localhost:9090, empty disables it)"))

	key = "stats-interval"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Log a transport summary every n seconds (0 disables it)"))

	cmdUtil.SetupTransportFlags(ServeCmd, true)
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.StageWorkers = viper.GetInt("stage-workers")
	serveCmdConfig.FileDir = viper.GetString("file-dir")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.StatsIntervalSecond = viper.GetInt("stats-interval")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.Transport = cmdUtil.GetTransportConfig(true)

	if _, err := common.ParseEndpoint(serveCmdConfig.Endpoint); err != nil {
		return err
	}
	if err := serveCmdConfig.Transport.Validate(); err != nil {
		return fmt.Errorf("invalid transport configuration: %w", err)
	}
	return cmdUtil.InitLogging()
}

// run starts the server and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(*serveCmdConfig, s)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serv.Start(); err != nil {
		return err
	}

	if addr := serveCmdConfig.MetricsEndpoint; addr != "" {
		metricsServer := serveMetrics(addr, serv)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	server.Logger.Infof("Shutting down")
	return serv.Close()
}

// serveMetrics exposes the server, transport and process metrics in
// Prometheus format
func serveMetrics(addr string, serv *server.RPCServer) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		serv.WritePrometheus(w)
		metrics.WriteProcessMetrics(w)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		server.Logger.Infof("Serving metrics on http://%s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Logger.Errorf("Metrics endpoint failed: %v", err)
		}
	}()
	return srv
}
