package util

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tiny-rpc/config"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix prefixes every environment variable read by the CLI, e.g. TINYRPC_ENDPOINT.
	EnvPrefix = "tinyrpc"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

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

// InitConfig loads .env files and makes viper read TINYRPC_* environment variables.
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// SplitList splits a comma-separated flag value, dropping blanks.
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SetupClientFlags adds the connection flags shared by client commands.
func SetupClientFlags(cmd *cobra.Command) {
	defaults := config.DefaultClientConfig()

	key := "endpoint"
	cmd.PersistentFlags().String(key, defaults.Endpoint, WrapString("The address of the tiny-rpc server"))

	key = "timeout"
	cmd.PersistentFlags().Int(key, defaults.TimeoutSecond, WrapString("The timeout in seconds for connecting and for each call (0 disables it)"))

	key = "max-frame-bytes"
	cmd.PersistentFlags().Int(key, defaults.MaxFrameBytes, WrapString("The maximum size of one reply in bytes"))

	key = "etcd-endpoints"
	cmd.PersistentFlags().String(key, "", WrapString("Comma-separated etcd endpoints. When set the server is looked up by service name instead of using --endpoint"))

	key = "service-name"
	cmd.PersistentFlags().String(key, defaults.ServiceName, WrapString("The service name to look up in etcd"))
}

// GetClientConfig reads the client configuration from viper.
func GetClientConfig() *config.ClientConfig {
	return &config.ClientConfig{
		Endpoint:      viper.GetString("endpoint"),
		TimeoutSecond: viper.GetInt("timeout"),
		MaxFrameBytes: viper.GetInt("max-frame-bytes"),
		EtcdEndpoints: SplitList(viper.GetString("etcd-endpoints")),
		ServiceName:   viper.GetString("service-name"),
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
