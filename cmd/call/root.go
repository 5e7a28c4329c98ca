package call

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tiny-rpc/client"
	cmdUtil "tiny-rpc/cmd/util"
	"tiny-rpc/config"
	"tiny-rpc/registry"
)

var CallCmd = &cobra.Command{
	Use:   "call <method> [arg...]",
	Short: "Call a method on a tiny-rpc server",
	Long: `Call a method on a tiny-rpc server and print the reply.

Each argument is parsed as JSON; arguments that are not valid JSON are sent as strings.
Keyword arguments are given as one JSON object with --kwargs.

  tinyrpc call add 2 3
  tinyrpc call upper hi
  tinyrpc call sub --kwargs '{"a": 5, "b": 2}'`,
	Args:    cobra.MinimumNArgs(1),
	PreRunE: func(cmd *cobra.Command, _ []string) error { return cmdUtil.BindCommandFlags(cmd) },
	RunE:    run,
}

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)
	cmdUtil.SetupClientFlags(CallCmd)
	CallCmd.Flags().String("kwargs", "", cmdUtil.WrapString("Keyword arguments as a JSON object"))
}

func run(cmd *cobra.Command, args []string) error {
	positional := ParseArgs(args[1:])
	kwargs, err := ParseKwargs(viper.GetString("kwargs"))
	if err != nil {
		return err
	}

	conf := cmdUtil.GetClientConfig()
	ctx := context.Background()
	if timeout := conf.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c, err := connect(ctx, conf)
	if err != nil {
		return err
	}
	defer c.Close()

	env, err := c.Call(ctx, args[0], positional, kwargs)
	if err != nil {
		return err
	}
	out, err := json.Marshal(env)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	if env.IsError() {
		cmd.SilenceUsage = true
		return &client.RemoteError{Records: env.Errors}
	}
	return nil
}

func connect(ctx context.Context, conf *config.ClientConfig) (*client.Client, error) {
	opts := []client.Option{
		client.WithTimeout(conf.Timeout()),
		client.WithMaxFrameBytes(conf.MaxFrameBytes),
	}
	if len(conf.EtcdEndpoints) == 0 {
		return client.Dial(ctx, conf.Endpoint, opts...)
	}
	reg, err := registry.NewEtcdRegistry(conf.EtcdEndpoints, conf.Timeout())
	if err != nil {
		return nil, err
	}
	defer reg.Close()
	return client.DialService(ctx, reg, conf.ServiceName, opts...)
}

// ParseArgs decodes each argument as JSON, falling back to the raw string.
func ParseArgs(args []string) []any {
	out := make([]any, 0, len(args))
	for _, arg := range args {
		dec := json.NewDecoder(bytes.NewReader([]byte(arg)))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil || dec.More() {
			out = append(out, arg)
			continue
		}
		out = append(out, v)
	}
	return out
}

// ParseKwargs decodes a JSON object of keyword arguments. Empty input means none.
func ParseKwargs(raw string) (map[string]any, error) {
	kwargs := map[string]any{}
	if raw == "" {
		return kwargs, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&kwargs); err != nil {
		return nil, errors.Wrap(err, "--kwargs must be a JSON object")
	}
	return kwargs, nil
}
