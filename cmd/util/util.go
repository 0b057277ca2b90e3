package util

import (
	"fmt"
	"github.com/ValentinKolb/dIPC/ipc/cache"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/serializer"
	"github.com/ValentinKolb/dIPC/ipc/transport"
	"github.com/ValentinKolb/dIPC/ipc/transport/tcp"
	"github.com/ValentinKolb/dIPC/ipc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"os"
	"strings"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables read by the cli
	EnvPrefix = "dipc"

	// DefaultEndpoint is the socket path used when no endpoint is configured
	DefaultEndpoint = "/tmp/dipc.sock"
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

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupClientFlags adds common connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The dial and write timeout in seconds of the client (0 disables it)"))

	key = "endpoint"
	cmd.PersistentFlags().String(key, DefaultEndpoint, WrapString("The address of the dIPC server: a socket path for the unix transport, host:port for tcp"))

	key = "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket write buffer (in KB)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval (in seconds, only for tcp)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, 0, WrapString("The linger time (in seconds, only for tcp)"))
}

// InitConfig loads .env files and initializes viper to read DIPC_* environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// EnvName returns the environment variable viper reads for key
func EnvName(key string) string {
	return strings.ToUpper(EnvPrefix + "_" + strings.ReplaceAll(key, "-", "_"))
}

// ExportFlags writes the resolved value of every flag of cmd to the environment,
// so child processes started with os.Environ() see the same configuration
func ExportFlags(cmd *cobra.Command) error {
	var err error
	export := func(f *pflag.Flag) {
		if err != nil {
			return
		}
		err = os.Setenv(EnvName(f.Name), viper.GetString(f.Name))
	}
	cmd.Flags().VisitAll(export)
	cmd.InheritedFlags().VisitAll(export)
	return err
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		TimeoutSecond: viper.GetInt("timeout"),
		Transport: common.ClientTransportConfig{
			Endpoint: viper.GetString("endpoint"),
			SocketConf: common.SocketConf{
				WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
			},
			TCPConf: common.TCPConf{
				TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
				TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
				TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			},
		},
	}
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IIPCSerializer, error) {
	switch viper.GetString("serializer") {
	case "msgpack", "":
		return serializer.NewMsgpackSerializer(), nil
	case "json":
		return serializer.NewJSONSerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}
}

// GetServerTransport creates the server transport based on configuration
func GetServerTransport(config common.ServerConfig, s serializer.IIPCSerializer) (transport.IIPCServerTransport, error) {
	switch viper.GetString("transport") {
	case "unix", "":
		return unix.NewUnixServerTransport(config, s), nil
	case "tcp":
		return tcp.NewTCPServerTransport(config, s), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetClientTransport creates the client transport based on configuration
func GetClientTransport(config common.ClientConfig, s serializer.IIPCSerializer) (transport.IIPCClientTransport, error) {
	switch viper.GetString("transport") {
	case "unix", "":
		return unix.NewUnixClientTransport(config, s), nil
	case "tcp":
		return tcp.NewTCPClientTransport(config, s), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetClientFactory returns a cache.ClientFactory creating clients of the configured
// transport. config is used for every client, only the endpoint is replaced.
func GetClientFactory(config common.ClientConfig, s serializer.IIPCSerializer) (cache.ClientFactory, error) {
	if _, err := GetClientTransport(config, s); err != nil {
		return nil, err
	}

	return func(endpoint string) transport.IIPCClientTransport {
		c := config
		c.Transport.Endpoint = endpoint
		client, _ := GetClientTransport(c, s)
		return client
	}, nil
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
