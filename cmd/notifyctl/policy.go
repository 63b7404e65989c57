package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"notifyd/internal/policy"
)

// AppsCmd returns the apps command.
func AppsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "apps",
		Short: "List registered applications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			apps, err := c.Apps()
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(apps)
			}
			if len(apps) == 0 {
				fmt.Println("No registered applications.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PACKAGE\tUID\tSCOPE\tTARGET GEN\tREGISTERED")
			for _, a := range apps {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n",
					a.Package, a.UID, a.UserScope, a.TargetGen,
					a.RegisteredAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	return cmd
}

// RegisterCmd returns the register command.
func RegisterCmd() *cobra.Command {
	var targetGen int

	cmd := &cobra.Command{
		Use:   "register <package>",
		Short: "Register an application and materialize its policy record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			uid, err := c.RegisterApp(args[0], targetGen)
			if err != nil {
				return err
			}
			fmt.Printf("%s registered with uid %d\n", args[0], uid)
			return nil
		},
	}

	cmd.Flags().IntVar(&targetGen, "target-gen", policy.MaxLegacyGeneration+1,
		"platform generation the app targets (legacy apps keep an unclamped default channel)")
	return cmd
}

// RemoveCmd returns the remove command.
func RemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <package>",
		Short: "Remove an application, its policy record, and its active notifications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			return pkgError(c, args[0], c.RemoveApp(args[0]))
		},
	}
}

// ImportanceCmd returns the importance command.
func ImportanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "importance <package> [value]",
		Short: "Get or set an application's notification importance",
		Long: `With one argument, print the package's importance. With two, set it:

    notifyctl importance org.example.mail high
    notifyctl importance org.example.mail 4

Setting importance to none blocks the package; unspecified clears the
override so channel and default settings apply again.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			pkg := args[0]
			if len(args) == 1 {
				imp, err := c.Importance(pkg)
				if err != nil {
					return pkgError(c, pkg, err)
				}
				fmt.Printf("%s: %s (%d)\n", pkg, colorImportance(imp), int(imp))
				return nil
			}

			imp, err := parseImportance(args[1])
			if err != nil {
				return err
			}
			if err := c.SetImportance(pkg, imp); err != nil {
				return pkgError(c, pkg, err)
			}
			fmt.Printf("%s: %s\n", pkg, colorImportance(imp))
			return nil
		},
	}
}

// EnableCmd returns the enable command.
func EnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <package>",
		Short: "Unblock an application's notifications",
		Args:  cobra.ExactArgs(1),
		RunE:  setEnabledRun(true),
	}
}

// DisableCmd returns the disable command.
func DisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <package>",
		Short: "Block all notifications from an application",
		Args:  cobra.ExactArgs(1),
		RunE:  setEnabledRun(false),
	}
}

func setEnabledRun(enabled bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.SetEnabled(args[0], enabled); err != nil {
			return pkgError(c, args[0], err)
		}
		if enabled {
			fmt.Printf("%s enabled\n", args[0])
		} else {
			fmt.Printf("%s disabled\n", args[0])
		}
		return nil
	}
}

// ChannelCmd returns the channel command group.
func ChannelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Manage notification channels",
	}
	cmd.AddCommand(channelListCmd())
	cmd.AddCommand(channelShowCmd())
	cmd.AddCommand(channelCreateCmd())
	cmd.AddCommand(channelUpdateCmd())
	cmd.AddCommand(channelDeleteCmd())
	return cmd
}

func channelListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list <package>",
		Short: "List a package's channels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			channels, err := c.Channels(args[0])
			if err != nil {
				return pkgError(c, args[0], err)
			}

			if asJSON {
				return printJSON(channels)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tIMPORTANCE\tSOUND\tBADGE\tLOCKED")
			for _, ch := range channels {
				badge := "yes"
				if !ch.ShowBadge {
					badge = "no"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t0x%02x\n",
					ch.ID, ch.Name, colorImportance(ch.Importance),
					ch.Sound, badge, uint32(ch.Locked))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	return cmd
}

func channelShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <package> <channel-id>",
		Short: "Show one channel in full",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			ch, err := c.Channel(args[0], args[1])
			if err != nil {
				return pkgError(c, args[0], err)
			}

			fmt.Printf("ID:          %s\n", ch.ID)
			fmt.Printf("Name:        %s\n", ch.Name)
			fmt.Printf("Importance:  %s (%d)\n", colorImportance(ch.Importance), int(ch.Importance))
			fmt.Printf("Allowed:     %v\n", ch.Allowed)
			fmt.Printf("Bypass DND:  %v\n", ch.BypassDND)
			fmt.Printf("Visibility:  %s\n", ch.Visibility)
			fmt.Printf("Sound:       %s\n", soundOrSilent(ch.Sound))
			fmt.Printf("Lights:      %v\n", ch.Lights)
			if ch.VibrationEnabled {
				fmt.Printf("Vibration:   %v\n", ch.VibrationPattern)
			} else {
				fmt.Printf("Vibration:   off\n")
			}
			fmt.Printf("Show badge:  %v\n", ch.ShowBadge)
			fmt.Printf("Locked:      0x%02x%s\n", uint32(ch.Locked), lockNames(ch.Locked))
			return nil
		},
	}
}

func soundOrSilent(s string) string {
	if s == "" {
		return "(silent)"
	}
	return s
}

// lockNames expands a lock mask into the user-set fields it covers.
func lockNames(m policy.LockMask) string {
	if m == 0 {
		return ""
	}
	names := []struct {
		bit  policy.LockMask
		name string
	}{
		{policy.LockBypassDND, "bypass-dnd"},
		{policy.LockVisibility, "visibility"},
		{policy.LockImportance, "importance"},
		{policy.LockLights, "lights"},
		{policy.LockVibration, "vibration"},
		{policy.LockSound, "sound"},
		{policy.LockAllowed, "allowed"},
		{policy.LockShowBadge, "show-badge"},
	}
	out := ""
	for _, n := range names {
		if m&n.bit != 0 {
			if out != "" {
				out += ", "
			}
			out += n.name
		}
	}
	return " (" + out + ")"
}

// channelFlags holds the shared create/update flag set.
type channelFlags struct {
	name       string
	importance string
	sound      string
	vibration  string
	visibility string
	lights     bool
	badge      bool
	bypassDND  bool
	allowed    bool
}

func (f *channelFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.importance, "importance", "", "channel importance (none|min|low|default|high|max)")
	cmd.Flags().StringVar(&f.sound, "sound", "", "notification sound, empty for silent")
	cmd.Flags().StringVar(&f.vibration, "vibration", "", "vibration pattern in ms, e.g. 0,250,100,250")
	cmd.Flags().StringVar(&f.visibility, "visibility", "", "lockscreen visibility (no-override|secret|private|public)")
	cmd.Flags().BoolVar(&f.lights, "lights", false, "blink the notification light")
	cmd.Flags().BoolVar(&f.badge, "badge", true, "show the launcher badge")
	cmd.Flags().BoolVar(&f.bypassDND, "bypass-dnd", false, "let the channel interrupt do-not-disturb")
	cmd.Flags().BoolVar(&f.allowed, "allowed", true, "whether the channel may post at all")
}

// apply copies every flag the user set onto ch.
func (f *channelFlags) apply(cmd *cobra.Command, ch *policy.Channel) error {
	if cmd.Flags().Changed("importance") {
		imp, err := parseImportance(f.importance)
		if err != nil {
			return err
		}
		ch.Importance = imp
	}
	if cmd.Flags().Changed("sound") {
		ch.Sound = f.sound
	}
	if cmd.Flags().Changed("vibration") {
		pattern, err := parseVibrationPattern(f.vibration)
		if err != nil {
			return err
		}
		ch.SetVibrationPattern(pattern)
	}
	if cmd.Flags().Changed("visibility") {
		vis, err := parseVisibility(f.visibility)
		if err != nil {
			return err
		}
		ch.Visibility = vis
	}
	if cmd.Flags().Changed("lights") {
		ch.Lights = f.lights
	}
	if cmd.Flags().Changed("badge") {
		ch.ShowBadge = f.badge
	}
	if cmd.Flags().Changed("bypass-dnd") {
		ch.BypassDND = f.bypassDND
	}
	if cmd.Flags().Changed("allowed") {
		ch.Allowed = f.allowed
	}
	return nil
}

func channelCreateCmd() *cobra.Command {
	var flags channelFlags
	var fromApp bool

	cmd := &cobra.Command{
		Use:   "create <package> <channel-id> <name>",
		Short: "Create a channel",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			ch := policy.NewChannel(args[1], args[2], policy.ImportanceDefault)
			if err := flags.apply(cmd, ch); err != nil {
				return err
			}
			if err := c.CreateChannel(args[0], ch, fromApp); err != nil {
				return pkgError(c, args[0], err)
			}
			fmt.Printf("%s/%s created\n", args[0], ch.ID)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&fromApp, "from-app", false,
		"apply as the owning app would: existing user settings win")
	return cmd
}

func channelUpdateCmd() *cobra.Command {
	var flags channelFlags
	var fromAssistant bool

	cmd := &cobra.Command{
		Use:   "update <package> <channel-id>",
		Short: "Update a channel; flags not given keep their current values",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			ch, err := c.Channel(args[0], args[1])
			if err != nil {
				return pkgError(c, args[0], err)
			}
			if cmd.Flags().Changed("name") {
				ch.Name = flags.name
			}
			if err := flags.apply(cmd, ch); err != nil {
				return err
			}

			if fromAssistant {
				err = c.UpdateChannelFromAssistant(args[0], ch)
			} else {
				err = c.UpdateChannel(args[0], ch)
			}
			if err != nil {
				return pkgError(c, args[0], err)
			}
			fmt.Printf("%s/%s updated\n", args[0], ch.ID)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&flags.name, "name", "", "channel display name")
	cmd.Flags().BoolVar(&fromAssistant, "from-assistant", false,
		"apply as the ranking assistant: changes do not lock fields")
	return cmd
}

func channelDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <package> <channel-id>",
		Short: "Delete a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.DeleteChannel(args[0], args[1]); err != nil {
				return pkgError(c, args[0], err)
			}
			fmt.Printf("%s/%s deleted\n", args[0], args[1])
			return nil
		},
	}
}
