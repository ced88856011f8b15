package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/danmuck/integractl/internal/channel"
	"github.com/danmuck/integractl/internal/datalink"
	"github.com/danmuck/integractl/internal/protocol/schema"
	"github.com/danmuck/integractl/internal/protocol/session"
	"github.com/danmuck/integractl/internal/request"
	"github.com/danmuck/integractl/internal/terminal"
	"github.com/spf13/cobra"
)

var (
	sendHost        string
	sendPort        int
	sendChannel     map[string]string
	sendDatalink    map[string]string
	sendTags        map[string]string
	sendConnectWait time.Duration
	sendTimeout     time.Duration
)

func init() {
	sendCmd.Flags().StringVar(&sendHost, "host", "127.0.0.1", "terminal host for a plain socket channel")
	sendCmd.Flags().IntVar(&sendPort, "port", 0, "terminal port for a plain socket channel")
	sendCmd.Flags().StringToStringVar(&sendChannel, "channel", nil, "channel options, e.g. Channel=ChannelSerial,Device=/dev/ttyUSB0")
	sendCmd.Flags().StringToStringVar(&sendDatalink, "datalink", nil, "datalink options, e.g. AckTimeout=7000")
	sendCmd.Flags().StringToStringVarP(&sendTags, "tag", "t", nil, "request tags, e.g. Amount=10.00,Currency=EUR")
	sendCmd.Flags().DurationVar(&sendConnectWait, "connect-timeout", 30*time.Second, "how long to wait for the channel")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 2*time.Minute, "how long to wait for the response")
}

var sendCmd = &cobra.Command{
	Use:   "send <request-type>",
	Short: "Sends one request to a terminal and prints the correlated response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chOpts, err := channelOptions(sendChannel, sendHost, sendPort)
		if err != nil {
			return err
		}
		dlOpts, err := datalinkOptions(sendDatalink)
		if err != nil {
			return err
		}
		reqType, err := request.TypeOf(map[string]string{request.KeyRequest: args[0]})
		if err != nil {
			return err
		}
		req, err := request.NewRequest(reqType, sendTags)
		if err != nil {
			return err
		}

		c, err := terminal.New("cli", chOpts, dlOpts, session.DefaultConfig())
		if err != nil {
			return err
		}
		defer func() {
			c.Dispose()
			<-c.Session().Done()
		}()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "request: %s via %s/%s\n", reqType, chOpts[channel.KeyChannel], dlOpts[datalink.KeyDatalink])
		c.SetStatusHandler(func(s request.StatusUpdate) {
			fmt.Fprintf(out, "status: %s\n", s.Message())
		})

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := c.Start(ctx); err != nil {
			return err
		}
		connectCtx, cancel := context.WithTimeout(ctx, sendConnectWait)
		err = c.WaitConnected(connectCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}

		txCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()
		resp, err := c.Transact(txCtx, req)
		if err != nil {
			return err
		}
		return printTags(out, resp.Tags())
	},
}

// channelOptions fills in a plain socket channel from --host/--port when
// --channel does not name a type. The type is rewritten to its canonical name.
func channelOptions(opts map[string]string, host string, port int) (map[string]string, error) {
	out := schema.Copy(opts)
	if _, ok := out[channel.KeyChannel]; !ok {
		if port == 0 {
			return nil, fmt.Errorf("either --port or --channel Channel=... is required")
		}
		out[channel.KeyChannel] = channel.TypeSocketClient
		out[channel.KeyHost] = host
		out[channel.KeyPort] = fmt.Sprint(port)
	}
	if err := channel.ValidateOptions(out); err != nil {
		return nil, err
	}
	typ, err := channel.TypeOf(out)
	if err != nil {
		return nil, err
	}
	out[channel.KeyChannel] = typ
	return out, nil
}

func datalinkOptions(opts map[string]string) (map[string]string, error) {
	out := schema.Copy(opts)
	if _, ok := out[datalink.KeyDatalink]; !ok {
		out[datalink.KeyDatalink] = datalink.TypeStxEtxCrc
	}
	typ, err := datalink.TypeOf(out)
	if err != nil {
		return nil, err
	}
	out[datalink.KeyDatalink] = typ
	return out, nil
}

func printTags(out io.Writer, bag map[string]string) error {
	keys := make([]string, 0, len(bag))
	for k := range bag {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\n", k, bag[k])
	}
	return w.Flush()
}
