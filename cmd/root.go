package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tiny-rpc/builtin"
	"tiny-rpc/cmd/call"
	"tiny-rpc/cmd/serve"
	"tiny-rpc/server"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "tinyrpc",
		Short: "a minimal JSON-over-TCP RPC server",
		Long: fmt.Sprintf(`tiny-rpc (v%s)

A minimal RPC server: clients send one JSON request per line, terminated by CRLF,
and receive one JSON reply per request on the same connection.`, server.Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of tiny-rpc",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tiny-rpc v%s\n", server.Version)
		},
	}
	methodsCmd = &cobra.Command{
		Use:   "methods",
		Short: "List the methods served by tinyrpc serve",
		Run: func(cmd *cobra.Command, args []string) {
			reg := builtin.NewRegistry()
			for _, name := range reg.Names() {
				m, _ := reg.Lookup(name)
				params := "*args, **kwargs"
				if m.Arity >= 0 {
					params = strings.Join(m.Params, ", ")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s(%s)\n", name, params)
			}
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(call.CallCmd)
	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(methodsCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
