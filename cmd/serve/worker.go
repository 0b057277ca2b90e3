package serve

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dIPC/cmd/util"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/prefork"
	"github.com/spf13/cobra"
	"os"
	"os/signal"
	"syscall"
)

// WorkerCmd serves the listener inherited from a prefork parent. It is
// started by serve and not meant to be run by hand.
var WorkerCmd = &cobra.Command{
	Use:     "worker",
	Short:   "Serve an endpoint inherited from dipc serve",
	Hidden:  true,
	PreRunE: processConfig,
	RunE:    runWorker,
}

func init() {
	addServerFlags(WorkerCmd)
}

func runWorker(_ *cobra.Command, _ []string) error {
	f, ok := prefork.InheritedListener()
	if !ok {
		return fmt.Errorf("no inherited listener (%s not set), workers are started by dipc serve", prefork.EnvListenerFD)
	}

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

	if err := server.Inherit(f); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, server, s, prefork.WorkerID())
}
