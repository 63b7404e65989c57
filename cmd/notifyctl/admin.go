package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"notifyd/internal/dbusapi"
	"notifyd/internal/proc"
)

// StatusCmd returns the status command.
func StatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()

			c, err := dbusapi.Dial(busName(cfg), flagSystem || cfg.Bus.UseSystemBus)
			if err != nil {
				return offlineStatus(cfg.Daemon.PidFile, err)
			}
			defer c.Close()

			st, err := c.Status()
			if err != nil {
				return offlineStatus(cfg.Daemon.PidFile, err)
			}

			if asJSON {
				return printJSON(st)
			}

			state := color.New(color.FgGreen).Sprint("RUNNING")
			if !st.Running {
				state = color.New(color.FgRed).Sprint("STOPPED")
			}
			fmt.Printf("Daemon:      %s (notifyd %s)\n", state, st.Version)
			fmt.Printf("Uptime:      %s\n", time.Duration(st.UptimeSec)*time.Second)
			fmt.Printf("User scope:  %d\n", st.UserScope)
			fmt.Printf("Active:      %d notifications\n", st.Active)
			fmt.Printf("Records:     %d (%d staged)\n", st.Records, st.Staged)
			fmt.Printf("Bans:        %d\n", st.Bans)
			fmt.Printf("Extractors:  %s\n", strings.Join(st.Extractors, ", "))
			policyLine := st.PolicyPath
			if st.Secure {
				policyLine += " " + color.New(color.FgGreen).Sprint("(integrity-checked)")
			}
			fmt.Printf("Policy file: %s\n", policyLine)
			if !st.UsageOn {
				fmt.Println("Usage:       disabled")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	return cmd
}

// offlineStatus reports what the PID file knows when the bus is unreachable.
// A live PID with a dead bus is a different failure than a stopped daemon,
// so the two get distinct messages and only the first is an error.
func offlineStatus(pidFile string, busErr error) error {
	mgr := proc.NewManager(pidFile)
	st := mgr.Status()
	if st.Running {
		return fmt.Errorf("daemon is %s (PID %d) but unreachable on the bus: %v",
			color.New(color.FgYellow).Sprint("RUNNING"), st.PID, busErr)
	}
	if _, err := mgr.ReadPID(); err == nil {
		fmt.Println("Daemon: STALE PID FILE")
		return nil
	}
	fmt.Println("Daemon: NOT RUNNING")
	return nil
}

// DumpCmd returns the dump command.
func DumpCmd() *cobra.Command {
	var asJSON, bans bool
	var pkg string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Dump the policy state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON && bans {
				return fmt.Errorf("--json and --bans are mutually exclusive")
			}

			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			kind := "text"
			switch {
			case asJSON:
				kind = "json"
			case bans:
				kind = "bans"
			}

			out, err := c.Dump(kind, pkg)
			if err != nil {
				return err
			}
			if kind == "text" {
				fmt.Print(out)
			} else {
				fmt.Println(out)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "dump records as JSON")
	cmd.Flags().BoolVar(&bans, "bans", false, "dump the banned-package list as JSON")
	cmd.Flags().StringVar(&pkg, "package", "", "restrict the dump to one package")
	return cmd
}

// ExportCmd returns the export command.
func ExportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a portable policy backup",
		Long: `Export the policy store as a portable XML snapshot. Records are keyed
by package name rather than uid, so the snapshot can be imported on a
host where the same packages resolve to different uids.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			data, err := c.ExportBackup()
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err = os.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0600); err != nil {
				return err
			}
			fmt.Printf("wrote %d bytes to %s\n", len(data), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

// ImportCmd returns the import command.
func ImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a policy backup, replacing current records",
		Long: `Import a policy snapshot produced by export. Imported records replace
any existing record for the same package. Records for packages that are
not registered yet are staged and bound when the package registers.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if args[0] == "-" {
				data, err = io.ReadAll(os.Stdin)
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.ImportBackup(data); err != nil {
				return err
			}
			fmt.Println("Policy imported.")
			return nil
		},
	}
}

// ReloadCmd returns the reload command.
func ReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload the policy store from disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				// SIGHUP reaches a daemon whose bus export is disabled.
				mgr := proc.NewManager(loadConfig().Daemon.PidFile)
				if !mgr.IsRunning() {
					return err
				}
				if err := mgr.SignalReload(); err != nil {
					return fmt.Errorf("signal reload: %w", err)
				}
				fmt.Println("Reload signal sent.")
				return nil
			}
			defer c.Close()

			if err := c.Reload(); err != nil {
				return err
			}
			fmt.Println("Policy reloaded.")
			return nil
		},
	}
}

// StopCmd returns the stop command.
func StopCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := proc.NewManager(loadConfig().Daemon.PidFile)
			if !mgr.IsRunning() {
				fmt.Println("Daemon is not running.")
				return nil
			}
			pid, _ := mgr.ReadPID()
			if err := mgr.SignalStop(); err != nil {
				return fmt.Errorf("signal stop: %w", err)
			}
			if err := mgr.WaitForStop(timeout); err != nil {
				return fmt.Errorf("daemon (PID %d) did not exit within %s", pid, timeout)
			}
			fmt.Printf("Daemon (PID %d) stopped.\n", pid)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the daemon to exit")
	return cmd
}

// UsageCmd returns the usage command.
func UsageCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show per-package notification counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			stats, err := c.UsageStats()
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(stats)
			}
			if len(stats) == 0 {
				fmt.Println("No usage recorded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PACKAGE\tPOSTED\tCLICKED\tDISMISSED\tLAST POSTED")
			for _, s := range stats {
				last := "-"
				if !s.LastPosted.IsZero() {
					last = s.LastPosted.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n",
					s.Package, s.Posted, s.Clicked, s.Dismissed, last)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	return cmd
}
