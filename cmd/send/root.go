package send

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dIPC/cmd/util"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/events"
	"github.com/ValentinKolb/dIPC/ipc/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"syscall"
)

var (
	client transport.IIPCClientTransport

	// SendCmd sends one or more messages to a server
	SendCmd = &cobra.Command{
		Use:   "send [payload]",
		Short: "Send a message to a dIPC server",
		Long: `Send a message to a dIPC server. The payload is YAML or JSON, given as argument or read from --file.
With --tag the message is sent as event: it carries the tag, a unique id and the origin of this process.

Examples:
  dipc send '{"fun": "test.ping"}'
  dipc send --tag app/job/1/ret --file ret.yaml
  dipc send --endpoint 127.0.0.1:4506 --transport tcp 'hello'`,
		Args:              cobra.MaximumNArgs(1),
		PersistentPreRunE: setupClient,
		RunE:              run,
	}
)

func init() {
	// Add common connection flags
	util.SetupClientFlags(SendCmd)

	key := "tag"
	SendCmd.Flags().String(key, "", util.WrapString("Event tag. If set, the message is sent as event with a generated id"))

	key = "file"
	SendCmd.Flags().String(key, "", util.WrapString("Read the payload from this YAML or JSON file instead of the argument"))

	key = "count"
	SendCmd.Flags().Int(key, 1, util.WrapString("How many times the message is sent"))
}

// setupClient initializes the client transport
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	client, err = util.GetClientTransport(*util.GetClientConfig(), s)
	return err
}

func run(_ *cobra.Command, args []string) error {
	defer client.Close()

	payload, err := readPayload(args, viper.GetString("file"))
	if err != nil {
		return err
	}

	count := viper.GetInt("count")
	if count < 1 {
		return fmt.Errorf("invalid count %d", count)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect eagerly so a missing server is reported before the first send
	if err := client.Connect(ctx); err != nil {
		return err
	}

	tag := viper.GetString("tag")
	for i := 0; i < count; i++ {
		if tag != "" {
			id, err := events.FireEvent(ctx, client, tag, payload)
			if err != nil {
				return err
			}
			fmt.Println(id)
			continue
		}

		if err := client.Send(ctx, common.NewEnvelope(payload)); err != nil {
			return err
		}
	}

	if tag == "" {
		fmt.Printf("Sent %d message(s) to %s\n", count, client.Endpoint())
	}
	return nil
}

// readPayload returns the parsed payload from the file or the single argument
func readPayload(args []string, file string) (interface{}, error) {
	switch {
	case file != "" && len(args) > 0:
		return nil, fmt.Errorf("payload argument and --file are mutually exclusive")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload file: %v", err)
		}
		return ParsePayload(data)
	case len(args) == 1:
		return ParsePayload([]byte(args[0]))
	default:
		return nil, fmt.Errorf("no payload given")
	}
}
