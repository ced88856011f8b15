package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/danmuck/integractl/internal/channel"
	"github.com/danmuck/integractl/internal/datalink"
	"github.com/danmuck/integractl/internal/request"
	"github.com/spf13/cobra"
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Lists channel types and their options",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printSchema(cmd.OutOrStdout(), channel.List(), channel.OptionsFor, channel.OptionalFor)
	},
}

var datalinksCmd = &cobra.Command{
	Use:   "datalinks",
	Short: "Lists datalink types and their options",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printSchema(cmd.OutOrStdout(), datalink.List(), datalink.OptionsFor, datalink.OptionalFor)
	},
}

var requestGroup string

func init() {
	requestsCmd.Flags().StringVar(&requestGroup, "group", "", "only list request types of this group")
}

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "Lists request types by group and their tags",
	RunE: func(cmd *cobra.Command, _ []string) error {
		groups := request.GroupList()
		if requestGroup != "" {
			groups = []string{requestGroup}
		}
		out := cmd.OutOrStdout()
		for _, g := range groups {
			types := request.ListForGroup(g)
			if len(types) == 0 {
				return fmt.Errorf("unknown request group %q", g)
			}
			fmt.Fprintf(out, "[%s]\n", g)
			if err := printSchema(out, types, request.OptionsFor, request.OptionalFor); err != nil {
				return err
			}
		}
		return nil
	},
}

func printSchema(out io.Writer, types []string, required, optional func(string) ([]string, error)) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "type\trequired\toptional")
	for _, typ := range types {
		req, err := required(typ)
		if err != nil {
			return err
		}
		opt, err := optional(typ)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", typ, strings.Join(req, ","), strings.Join(opt, ","))
	}
	return w.Flush()
}
