package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"notifyd/internal/daemon"
	"notifyd/internal/policy"
)

// PostCmd returns the post command.
func PostCmd() *cobra.Command {
	var (
		channelID string
		body      string
		group     string
		sortKey   string
		summary   bool
	)

	cmd := &cobra.Command{
		Use:   "post <package> <title>",
		Short: "Post a notification through the ranking pipeline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			req := daemon.PostRequest{
				Pkg:       args[0],
				ChannelID: channelID,
				Title:     args[1],
				Body:      body,
				Group:     group,
				Summary:   summary,
			}
			// An explicit empty --sort-key is a real value; only an
			// unset flag leaves the key absent.
			if cmd.Flags().Changed("sort-key") {
				req.SortKey = &sortKey
			}

			id, err := c.Post(req)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}

	cmd.Flags().StringVar(&channelID, "channel", "", "channel id (default: the package's default channel)")
	cmd.Flags().StringVar(&body, "body", "", "notification body")
	cmd.Flags().StringVar(&group, "group", "", "developer group key")
	cmd.Flags().StringVar(&sortKey, "sort-key", "", "in-group sort key")
	cmd.Flags().BoolVar(&summary, "summary", false, "mark as the group summary")

	return cmd
}

// ListCmd returns the list command.
func ListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show active notifications in ranked order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			entries, err := c.Ranked()
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(entries)
			}
			if len(entries) == 0 {
				fmt.Println("No active notifications.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RANK\tID\tPACKAGE\tCHANNEL\tIMPORTANCE\tTITLE")
			for i, e := range entries {
				title := e.Title
				if e.Summary {
					title += " [summary]"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					i, e.ID, e.Package, e.ChannelID,
					colorImportance(policy.Importance(e.Importance)), title)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	return cmd
}

// DismissCmd returns the dismiss command.
func DismissCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <id>",
		Short: "Dismiss a notification, recording the swipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Dismiss(args[0])
		},
	}
}

// ClickCmd returns the click command.
func ClickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "click <id>",
		Short: "Open a notification, recording the click",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Click(args[0])
		},
	}
}
