package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"vaultbridge.mini/vb/internal/discovery"
)

func newNodesCmd(c *cli) *cobra.Command {
	var (
		wait time.Duration
		all  bool
	)
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List vbd nodes announced on the local network",
		Long: `Browse mDNS for vbd nodes started with discovery.enabled. Only nodes
serving the configured program id are listed unless --all is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			peers, err := c.browse(cmd.Context(), wait)
			if err != nil {
				return err
			}
			if !all {
				peers = discovery.ForProgram(peers, c.programID)
			}
			if c.jsonOut {
				return c.printJSON(peers)
			}
			if len(peers) == 0 {
				fmt.Fprintln(c.out, "no nodes found")
				return nil
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INSTANCE\tAPI\tADDRESS\tVERSION")
			for _, p := range peers {
				api := p.APIURL()
				if api == "" {
					api = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Instance, api, p.Address, p.Version)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 3*time.Second, "how long to listen for announcements")
	cmd.Flags().BoolVar(&all, "all", false, "include nodes of other programs")
	return cmd
}
