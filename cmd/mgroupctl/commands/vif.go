package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mgroupd/mgroupd/internal/ctlproto"
)

var errFamilyRequired = errors.New("--family flag is required (ipv4 or ipv6)")

func vifCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vif",
		Short: "Manage and inspect vifs",
	}

	cmd.AddCommand(vifAddCmd())
	cmd.AddCommand(vifDeleteCmd())
	cmd.AddCommand(vifSetFlagsCmd())
	cmd.AddCommand(vifAddAddrCmd())
	cmd.AddCommand(vifDeleteAddrCmd())
	cmd.AddCommand(vifEnableCmd())
	cmd.AddCommand(vifDisableCmd())
	cmd.AddCommand(vifStartCmd())
	cmd.AddCommand(vifStopCmd())
	cmd.AddCommand(vifSetProtoVersionCmd())
	cmd.AddCommand(vifSetQueryIntervalCmd())
	cmd.AddCommand(vifSetQueryLastMemberIntervalCmd())
	cmd.AddCommand(vifSetQueryResponseIntervalCmd())
	cmd.AddCommand(vifSetRobustCountCmd())
	cmd.AddCommand(vifShowCmd())

	return cmd
}

// --- vif add ---

func vifAddCmd() *cobra.Command {
	var (
		family       string
		primaryAddr  string
		addrs        []string
		protoVersion int
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a new vif in the down state",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if family == "" {
				return errFamilyRequired
			}

			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			return client.Call(ctlproto.OpAddVif, ctlproto.AddVifParams{
				Name:         args[0],
				Family:       family,
				PrimaryAddr:  primaryAddr,
				Addrs:        addrs,
				ProtoVersion: protoVersion,
			}, nil)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&family, "family", "", "address family: ipv4 or ipv6 (required)")
	flags.StringVar(&primaryAddr, "primary-addr", "", "primary interface address")
	flags.StringSliceVar(&addrs, "addr", nil, "interface address in addr/prefixlen form, repeatable")
	flags.IntVar(&protoVersion, "proto-version", 0, "protocol version ceiling (default: 3 for IPv4, 2 for IPv6)")

	return cmd
}

// --- vif delete ---

func vifDeleteCmd() *cobra.Command {
	var family string

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a vif",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if family == "" {
				return errFamilyRequired
			}

			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			return client.Call(ctlproto.OpDeleteVif, ctlproto.DeleteVifParams{
				Name: args[0], Family: family,
			}, nil)
		},
	}

	cmd.Flags().StringVar(&family, "family", "", "address family: ipv4 or ipv6 (required)")
	return cmd
}

// --- vif set-flags ---

func vifSetFlagsCmd() *cobra.Command {
	var (
		family    string
		p2p       string
		loopback  string
		multicast string
		broadcast string
		up        string
		mtu       int
	)

	cmd := &cobra.Command{
		Use:   "set-flags <name>",
		Short: "Set a down vif's interface flags (refused while the vif is up)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if family == "" {
				return errFamilyRequired
			}

			params := ctlproto.SetVifFlagsParams{Name: args[0], Family: family}
			var err error
			if params.P2P, err = optionalBool(p2p); err != nil {
				return fmt.Errorf("parse --p2p: %w", err)
			}
			if params.Loopback, err = optionalBool(loopback); err != nil {
				return fmt.Errorf("parse --loopback: %w", err)
			}
			if params.Multicast, err = optionalBool(multicast); err != nil {
				return fmt.Errorf("parse --multicast: %w", err)
			}
			if params.Broadcast, err = optionalBool(broadcast); err != nil {
				return fmt.Errorf("parse --broadcast: %w", err)
			}
			if params.Up, err = optionalBool(up); err != nil {
				return fmt.Errorf("parse --up: %w", err)
			}
			if mtu > 0 {
				params.MTU = &mtu
			}

			client, dialErr := dial()
			if dialErr != nil {
				return dialErr
			}
			defer client.Close()

			return client.Call(ctlproto.OpSetVifFlags, params, nil)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&family, "family", "", "address family: ipv4 or ipv6 (required)")
	flags.StringVar(&p2p, "p2p", "", "point-to-point: true or false")
	flags.StringVar(&loopback, "loopback", "", "loopback: true or false")
	flags.StringVar(&multicast, "multicast", "", "multicast-capable: true or false")
	flags.StringVar(&broadcast, "broadcast", "", "broadcast-capable: true or false (sent, but not applied by the daemon)")
	flags.StringVar(&up, "up", "", "administratively up: true or false (sent, but not applied by the daemon)")
	flags.IntVar(&mtu, "mtu", 0, "interface MTU")

	return cmd
}

// optionalBool parses an empty string as "leave unchanged" (nil).
func optionalBool(s string) (*bool, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// --- vif add-addr / delete-addr ---

func vifAddAddrCmd() *cobra.Command {
	var (
		family    string
		subnet    string
		broadcast string
		peer      string
	)

	cmd := &cobra.Command{
		Use:   "add-addr <name> <addr>",
		Short: "Add an address to a down vif",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			if family == "" {
				return errFamilyRequired
			}

			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			return client.Call(ctlproto.OpAddVifAddr, ctlproto.AddVifAddrParams{
				Name: args[0], Family: family, Addr: args[1],
				Subnet: subnet, Broadcast: broadcast, Peer: peer,
			}, nil)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&family, "family", "", "address family: ipv4 or ipv6 (required)")
	flags.StringVar(&subnet, "subnet", "", "subnet in CIDR form (required)")
	flags.StringVar(&broadcast, "broadcast", "", "broadcast address")
	flags.StringVar(&peer, "peer", "", "point-to-point peer address")

	return cmd
}

func vifDeleteAddrCmd() *cobra.Command {
	var family string

	cmd := &cobra.Command{
		Use:   "delete-addr <name> <addr>",
		Short: "Remove an address from a down vif",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			if family == "" {
				return errFamilyRequired
			}

			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			return client.Call(ctlproto.OpDeleteVifAddr, ctlproto.DeleteVifAddrParams{
				Name: args[0], Family: family, Addr: args[1],
			}, nil)
		},
	}

	cmd.Flags().StringVar(&family, "family", "", "address family: ipv4 or ipv6 (required)")
	return cmd
}

// --- vif enable/disable/start/stop ---

func vifLifecycleCmd(use, short string, op ctlproto.Op) *cobra.Command {
	var (
		family string
		all    bool
	)

	cmd := &cobra.Command{
		Use:   use + " [name]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			sel := ctlproto.VifSelector{Family: family, All: all}
			if len(args) == 1 {
				sel.Name = args[0]
			} else if !all {
				return errors.New("either a vif name or --all is required")
			}

			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			return client.Call(op, sel, nil)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&family, "family", "", "address family of the named vif: ipv4 (default) or ipv6; ignored with --all, which covers both")
	flags.BoolVar(&all, "all", false, "apply to every vif")

	return cmd
}

func vifEnableCmd() *cobra.Command {
	return vifLifecycleCmd("enable", "Administratively enable a vif", ctlproto.OpEnableVif)
}

func vifDisableCmd() *cobra.Command {
	return vifLifecycleCmd("disable", "Administratively disable a vif", ctlproto.OpDisableVif)
}

func vifStartCmd() *cobra.Command {
	return vifLifecycleCmd("start", "Start a vif's protocol engine", ctlproto.OpStartVif)
}

func vifStopCmd() *cobra.Command {
	return vifLifecycleCmd("stop", "Stop a vif's protocol engine", ctlproto.OpStopVif)
}

// --- vif set-proto-version ---

func vifSetProtoVersionCmd() *cobra.Command {
	var (
		family string
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "set-proto-version [name] <version>",
		Short: "Set a vif's protocol version ceiling",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			sel, versionArg, err := splitSelectorArg(args, family, all)
			if err != nil {
				return err
			}
			version, err := strconv.Atoi(versionArg)
			if err != nil {
				return fmt.Errorf("parse version %q: %w", versionArg, err)
			}

			client, dialErr := dial()
			if dialErr != nil {
				return dialErr
			}
			defer client.Close()

			return client.Call(ctlproto.OpSetProtoVersion, ctlproto.SetProtoVersionParams{
				VifSelector: sel, Version: version,
			}, nil)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&family, "family", "", "address family of the named vif: ipv4 (default) or ipv6; ignored with --all, which covers both")
	flags.BoolVar(&all, "all", false, "apply to every vif")

	return cmd
}

// splitSelectorArg untangles the "[name] <value>" argument shape shared
// by the proto-version/duration/robust-count setters: with two
// positional args the first is the vif name; with one, --all must be set.
func splitSelectorArg(args []string, family string, all bool) (ctlproto.VifSelector, string, error) {
	sel := ctlproto.VifSelector{Family: family, All: all}
	if len(args) == 2 {
		sel.Name = args[0]
		return sel, args[1], nil
	}
	if !all {
		return sel, "", errors.New("either a vif name or --all is required")
	}
	return sel, args[0], nil
}

// --- vif set-query-interval / set-query-last-member-interval / set-query-response-interval ---

func vifSetDurationCmd(use, short string, op ctlproto.Op) *cobra.Command {
	var (
		family string
		all    bool
	)

	cmd := &cobra.Command{
		Use:   use + " [name] <duration>",
		Short: short,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			sel, durationArg, err := splitSelectorArg(args, family, all)
			if err != nil {
				return err
			}

			client, dialErr := dial()
			if dialErr != nil {
				return dialErr
			}
			defer client.Close()

			return client.Call(op, ctlproto.SetDurationParams{
				VifSelector: sel, Duration: durationArg,
			}, nil)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&family, "family", "", "address family of the named vif: ipv4 (default) or ipv6; ignored with --all, which covers both")
	flags.BoolVar(&all, "all", false, "apply to every vif")

	return cmd
}

func vifSetQueryIntervalCmd() *cobra.Command {
	return vifSetDurationCmd("set-query-interval", "Set the general query interval", ctlproto.OpSetQueryInterval)
}

func vifSetQueryLastMemberIntervalCmd() *cobra.Command {
	return vifSetDurationCmd("set-query-last-member-interval", "Set the last-member query interval", ctlproto.OpSetQueryLastMemberInterval)
}

func vifSetQueryResponseIntervalCmd() *cobra.Command {
	return vifSetDurationCmd("set-query-response-interval", "Set the max query response interval", ctlproto.OpSetQueryResponseInterval)
}

// --- vif set-robust-count ---

func vifSetRobustCountCmd() *cobra.Command {
	var (
		family string
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "set-robust-count [name] <count>",
		Short: "Set the robustness variable",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			sel, countArg, err := splitSelectorArg(args, family, all)
			if err != nil {
				return err
			}
			count, err := strconv.ParseUint(countArg, 10, 32)
			if err != nil {
				return fmt.Errorf("parse count %q: %w", countArg, err)
			}

			client, dialErr := dial()
			if dialErr != nil {
				return dialErr
			}
			defer client.Close()

			return client.Call(ctlproto.OpSetRobustCount, ctlproto.SetRobustCountParams{
				VifSelector: sel, Count: uint(count),
			}, nil)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&family, "family", "", "address family of the named vif: ipv4 (default) or ipv6; ignored with --all, which covers both")
	flags.BoolVar(&all, "all", false, "apply to every vif")

	return cmd
}

// --- vif show ---

func vifShowCmd() *cobra.Command {
	var family string

	cmd := &cobra.Command{
		Use:   "show [name]",
		Short: "Show vif state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var name string
			if len(args) == 1 {
				name = args[0]
			}

			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			var result ctlproto.ShowVifResult
			if err := client.Call(ctlproto.OpShowVif, ctlproto.ShowVifParams{Name: name, Family: family}, &result); err != nil {
				return err
			}

			out, err := formatVifs(result.Vifs, outputFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&family, "family", "", "address family: ipv4 or ipv6 (omit for both)")
	return cmd
}

// vifAddrsJoined renders a VifInfo's addresses as a comma-separated list
// for table output.
func vifAddrsJoined(addrs []string) string {
	if len(addrs) == 0 {
		return valueNA
	}
	return strings.Join(addrs, ",")
}
