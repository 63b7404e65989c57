// notifyctl is the control CLI for notifyd.
//
// Every command talks to the running daemon over the bus; nothing here
// touches the policy files directly. `notifyctl status` additionally
// consults the PID file so it can tell a stopped daemon from an
// unreachable bus.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"notifyd/internal/config"
	"notifyd/internal/dbusapi"
	"notifyd/internal/policy"
	"notifyd/internal/registry"
)

var version = "1.0.0"

var (
	flagConfig string
	flagBus    string
	flagSystem bool
)

func main() {
	root := &cobra.Command{
		Use:     "notifyctl",
		Short:   "Control CLI for the notifyd notification policy daemon",
		Version: version,
		Long: `notifyctl inspects and mutates the notification policy of a running
notifyd: per-app importance, channels, bans, the live ranked list, and
the XML backup surface. All commands go through the daemon's bus API.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path (default: platform config dir)")
	root.PersistentFlags().StringVar(&flagBus, "bus", "", "well-known bus name to call (default: from config)")
	root.PersistentFlags().BoolVar(&flagSystem, "system", false, "use the system bus instead of the session bus")

	root.AddCommand(StatusCmd())
	root.AddCommand(PostCmd())
	root.AddCommand(ListCmd())
	root.AddCommand(DismissCmd())
	root.AddCommand(ClickCmd())
	root.AddCommand(AppsCmd())
	root.AddCommand(RegisterCmd())
	root.AddCommand(RemoveCmd())
	root.AddCommand(ImportanceCmd())
	root.AddCommand(EnableCmd())
	root.AddCommand(DisableCmd())
	root.AddCommand(ChannelCmd())
	root.AddCommand(DumpCmd())
	root.AddCommand(ExportCmd())
	root.AddCommand(ImportCmd())
	root.AddCommand(ReloadCmd())
	root.AddCommand(StopCmd())
	root.AddCommand(UsageCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the effective daemon config. A broken config file
// degrades to defaults so read-only commands keep working.
func loadConfig() *config.Config {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v, using defaults\n", err)
		return config.DefaultConfig()
	}
	return cfg
}

// busName composes the well-known name the daemon claims.
func busName(cfg *config.Config) string {
	if flagBus != "" {
		return flagBus
	}
	return cfg.Bus.Name + ".Daemon1"
}

// dial connects to the daemon's bus endpoint.
func dial() (*dbusapi.Client, error) {
	cfg := loadConfig()
	c, err := dbusapi.Dial(busName(cfg), flagSystem || cfg.Bus.UseSystemBus)
	if err != nil {
		return nil, fmt.Errorf("connect to bus: %w", err)
	}
	return c, nil
}

// parseImportance accepts both the symbolic names and the numeric codes.
func parseImportance(s string) (policy.Importance, error) {
	switch strings.ToLower(s) {
	case "unspecified":
		return policy.ImportanceUnspecified, nil
	case "none", "blocked":
		return policy.ImportanceNone, nil
	case "min":
		return policy.ImportanceMin, nil
	case "low":
		return policy.ImportanceLow, nil
	case "default":
		return policy.ImportanceDefault, nil
	case "high":
		return policy.ImportanceHigh, nil
	case "max":
		return policy.ImportanceMax, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unknown importance %q (use none|min|low|default|high|max or a number)", s)
	}
	return policy.Importance(n), nil
}

// parseVisibility accepts the symbolic lockscreen visibility names.
func parseVisibility(s string) (policy.Visibility, error) {
	switch strings.ToLower(s) {
	case "no-override", "nooverride":
		return policy.VisibilityNoOverride, nil
	case "secret":
		return policy.VisibilitySecret, nil
	case "private":
		return policy.VisibilityPrivate, nil
	case "public":
		return policy.VisibilityPublic, nil
	}
	return 0, fmt.Errorf("unknown visibility %q (use no-override|secret|private|public)", s)
}

// parseVibrationPattern parses a comma-separated millisecond pattern.
func parseVibrationPattern(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	pattern := make([]int64, 0, len(parts))
	for _, p := range parts {
		ms, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("invalid vibration pattern %q", s)
		}
		pattern = append(pattern, ms)
	}
	return pattern, nil
}

// colorImportance renders an importance with the urgency it implies:
// blocked packages in red, interruptive levels in yellow.
func colorImportance(i policy.Importance) string {
	switch {
	case i == policy.ImportanceNone:
		return color.New(color.FgRed).Sprint(i.String())
	case i >= policy.ImportanceHigh:
		return color.New(color.FgYellow).Sprint(i.String())
	default:
		return i.String()
	}
}

// suggestPackage finds the registered package closest to pkg, for typo
// hints on unknown-package errors. Empty when nothing is close enough.
func suggestPackage(c *dbusapi.Client, pkg string) string {
	apps, err := c.Apps()
	if err != nil {
		return ""
	}

	best, bestDist := "", -1
	for _, a := range apps {
		d := levenshtein.ComputeDistance(strings.ToLower(pkg), strings.ToLower(a.Package))
		if bestDist < 0 || d < bestDist {
			best, bestDist = a.Package, d
		}
	}
	if best == "" {
		return ""
	}

	maxLen := len(pkg)
	if len(best) > maxLen {
		maxLen = len(best)
	}
	if maxLen == 0 || float64(bestDist)/float64(maxLen) >= 0.4 {
		return ""
	}
	return best
}

// pkgError decorates unknown-package failures with a nearest-name hint.
func pkgError(c *dbusapi.Client, pkg string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, policy.ErrInvalidPackage) || errors.Is(err, registry.ErrUnknownPackage) {
		if s := suggestPackage(c, pkg); s != "" {
			return fmt.Errorf("%w (did you mean %q?)", err, s)
		}
	}
	return err
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
