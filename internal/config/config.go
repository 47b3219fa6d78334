// Package config manages mgroupd's daemon configuration using
// koanf/v2: YAML file + environment variable overrides layered on top
// of built-in defaults, the same stack and layering order as the
// teacher's internal/config/config.go.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/mgroupd/mgroupd/internal/mgroup"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete mgroupd configuration.
type Config struct {
	Admin    AdminConfig      `koanf:"admin"`
	Metrics  MetricsConfig    `koanf:"metrics"`
	Log      LogConfig        `koanf:"log"`
	IfMirror IfMirrorConfig   `koanf:"ifmirror"`
	IGMP     ProtocolDefaults `koanf:"igmp"`
	MLD      ProtocolDefaults `koanf:"mld"`
	Vifs     []VifConfig      `koanf:"vifs"`
}

// IfMirrorConfig holds the OVSDB endpoint the interface-tree mirror
// (internal/ifmirror) connects to. An empty Endpoint disables the
// mirror; cmd/mgroupd then treats every configured vif's interface as
// already up rather than waiting on a tree_complete() callback that
// will never come.
type IfMirrorConfig struct {
	Endpoint string `koanf:"endpoint"`
}

// AdminConfig holds the administrative control-socket listen path
// (internal/ctlproto, spec.md Section 4.11).
type AdminConfig struct {
	SocketPath string `koanf:"socket_path"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ProtocolDefaults holds the per-address-family knob defaults applied
// to any VifConfig entry that does not override them (spec.md Section
// 6's administrative surface: ProtoVersion, IPRouterAlertOptionCheck,
// QueryInterval, QueryLastMemberInterval, QueryResponseInterval,
// RobustCount).
type ProtocolDefaults struct {
	ProtoVersion             int           `koanf:"proto_version"`
	IPRouterAlertOptionCheck bool          `koanf:"ip_router_alert_option_check"`
	QueryInterval            time.Duration `koanf:"query_interval"`
	QueryLastMemberInterval  time.Duration `koanf:"query_last_member_interval"`
	QueryResponseInterval    time.Duration `koanf:"query_response_interval"`
	RobustCount              uint          `koanf:"robust_count"`
}

// VifConfig describes one declaratively configured virtual interface.
// Each entry creates (or updates) a mgroup.Vif on daemon startup and on
// SIGHUP reload.
type VifConfig struct {
	// Name is the underlying network interface name.
	Name string `koanf:"name"`

	// Family is "ipv4" (IGMP) or "ipv6" (MLD).
	Family string `koanf:"family"`

	// PrimaryAddr is the vif's primary local address.
	PrimaryAddr string `koanf:"primary_addr"`

	// Addrs lists additional subnets configured on this interface, as
	// CIDR strings (e.g. "10.0.0.1/24").
	Addrs []string `koanf:"addrs"`

	// Overrides, all optional; zero value means "inherit from IGMP/MLD
	// ProtocolDefaults".
	ProtoVersion             int           `koanf:"proto_version"`
	IPRouterAlertOptionCheck *bool         `koanf:"ip_router_alert_option_check"`
	QueryInterval            time.Duration `koanf:"query_interval"`
	QueryLastMemberInterval  time.Duration `koanf:"query_last_member_interval"`
	QueryResponseInterval    time.Duration `koanf:"query_response_interval"`
	RobustCount              uint          `koanf:"robust_count"`
}

// Key identifies a VifConfig across reconciliations; matched by name
// and family, since the same interface name can carry both an IGMP and
// an MLD vif.
func (vc VifConfig) Key() string { return vc.Family + "/" + vc.Name }

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with RFC-default knobs
// (spec.md Section 6).
func DefaultConfig() *Config {
	return &Config{
		Admin: AdminConfig{
			SocketPath: "/run/mgroupd/ctl.sock",
		},
		Metrics: MetricsConfig{
			Addr: ":9157",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		IfMirror: IfMirrorConfig{
			Endpoint: "unix:/var/run/ifmgr/ovsdb.sock",
		},
		IGMP: defaultProtocolKnobs(3),
		MLD:  defaultProtocolKnobs(2),
	}
}

func defaultProtocolKnobs(version int) ProtocolDefaults {
	return ProtocolDefaults{
		ProtoVersion:             version,
		IPRouterAlertOptionCheck: false,
		QueryInterval:            125 * time.Second,
		QueryLastMemberInterval:  1 * time.Second,
		QueryResponseInterval:    10 * time.Second,
		RobustCount:              2,
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for mgroupd
// configuration. Variables are named MGROUPD_<section>_<key>, e.g.
// MGROUPD_METRICS_ADDR.
const envPrefix = "MGROUPD_"

// Load reads configuration from a YAML file at path, overlays
// environment variable overrides (MGROUPD_ prefix), and merges on top
// of DefaultConfig(). Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms MGROUPD_METRICS_ADDR -> metrics.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"admin.socket_path":                 defaults.Admin.SocketPath,
		"metrics.addr":                      defaults.Metrics.Addr,
		"metrics.path":                      defaults.Metrics.Path,
		"log.level":                         defaults.Log.Level,
		"log.format":                        defaults.Log.Format,
		"ifmirror.endpoint":                 defaults.IfMirror.Endpoint,
		"igmp.proto_version":                defaults.IGMP.ProtoVersion,
		"igmp.ip_router_alert_option_check": defaults.IGMP.IPRouterAlertOptionCheck,
		"igmp.query_interval":               defaults.IGMP.QueryInterval.String(),
		"igmp.query_last_member_interval":   defaults.IGMP.QueryLastMemberInterval.String(),
		"igmp.query_response_interval":      defaults.IGMP.QueryResponseInterval.String(),
		"igmp.robust_count":                 defaults.IGMP.RobustCount,
		"mld.proto_version":                 defaults.MLD.ProtoVersion,
		"mld.ip_router_alert_option_check":  defaults.MLD.IPRouterAlertOptionCheck,
		"mld.query_interval":                defaults.MLD.QueryInterval.String(),
		"mld.query_last_member_interval":    defaults.MLD.QueryLastMemberInterval.String(),
		"mld.query_response_interval":       defaults.MLD.QueryResponseInterval.String(),
		"mld.robust_count":                  defaults.MLD.RobustCount,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

var (
	ErrInvalidVifName       = errors.New("vif name must not be empty")
	ErrInvalidVifFamily     = errors.New("vif family must be ipv4 or ipv6")
	ErrInvalidVifAddr       = errors.New("vif primary_addr is invalid")
	ErrInvalidVifCIDR       = errors.New("vif addrs entry is not a valid CIDR")
	ErrInvalidRobustCount   = errors.New("robust_count must be >= 1")
	ErrInvalidQueryInterval = errors.New("query_interval must be > 0")
	ErrDuplicateVifKey      = errors.New("duplicate vif name+family")
)

// ValidFamilies lists the recognized VifConfig.Family strings.
var ValidFamilies = map[string]bool{"ipv4": true, "ipv6": true}

// Validate checks the configuration for logical errors. Returns the
// first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.IGMP.RobustCount < 1 {
		return fmt.Errorf("igmp: %w", ErrInvalidRobustCount)
	}
	if cfg.MLD.RobustCount < 1 {
		return fmt.Errorf("mld: %w", ErrInvalidRobustCount)
	}
	if cfg.IGMP.QueryInterval <= 0 {
		return fmt.Errorf("igmp: %w", ErrInvalidQueryInterval)
	}
	if cfg.MLD.QueryInterval <= 0 {
		return fmt.Errorf("mld: %w", ErrInvalidQueryInterval)
	}

	seen := make(map[string]struct{}, len(cfg.Vifs))
	for i, vc := range cfg.Vifs {
		if vc.Name == "" {
			return fmt.Errorf("vifs[%d]: %w", i, ErrInvalidVifName)
		}
		if !ValidFamilies[vc.Family] {
			return fmt.Errorf("vifs[%d] family %q: %w", i, vc.Family, ErrInvalidVifFamily)
		}
		if _, err := netip.ParseAddr(vc.PrimaryAddr); err != nil {
			return fmt.Errorf("vifs[%d]: %w: %w", i, ErrInvalidVifAddr, err)
		}
		for _, cidr := range vc.Addrs {
			if _, err := netip.ParsePrefix(cidr); err != nil {
				return fmt.Errorf("vifs[%d] addrs %q: %w: %w", i, cidr, ErrInvalidVifCIDR, err)
			}
		}
		if vc.RobustCount != 0 && vc.RobustCount < 1 {
			return fmt.Errorf("vifs[%d]: %w", i, ErrInvalidRobustCount)
		}

		key := vc.Key()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("vifs[%d] key %q: %w", i, key, ErrDuplicateVifKey)
		}
		seen[key] = struct{}{}
	}

	return nil
}

// -------------------------------------------------------------------------
// Conversion to mgroup.VifDesc
// -------------------------------------------------------------------------

// ToVifDescs converts the declarative vif list into mgroup.VifDesc
// values ready for mgroup.Node.ReconcileVifs, split by address family
// since IGMP and MLD are driven by two separate mgroup.Node instances
// (one per mgroup.Family), applying IGMP/MLD ProtocolDefaults to any
// per-vif zero-value override.
func (c *Config) ToVifDescs() (v4, v6 []mgroup.VifDesc, err error) {
	for i, vc := range c.Vifs {
		desc, derr := c.toVifDesc(vc)
		if derr != nil {
			return nil, nil, fmt.Errorf("vifs[%d]: %w", i, derr)
		}
		if vc.Family == "ipv6" {
			v6 = append(v6, desc)
		} else {
			v4 = append(v4, desc)
		}
	}
	return v4, v6, nil
}

func (c *Config) toVifDesc(vc VifConfig) (mgroup.VifDesc, error) {
	primary, err := netip.ParseAddr(vc.PrimaryAddr)
	if err != nil {
		return mgroup.VifDesc{}, fmt.Errorf("%w: %w", ErrInvalidVifAddr, err)
	}

	addrs := make([]mgroup.InterfaceAddr, 0, len(vc.Addrs))
	for _, cidr := range vc.Addrs {
		prefix, perr := netip.ParsePrefix(cidr)
		if perr != nil {
			return mgroup.VifDesc{}, fmt.Errorf("%w: %w", ErrInvalidVifCIDR, perr)
		}
		addrs = append(addrs, mgroup.InterfaceAddr{Addr: primary, Prefix: prefix})
	}

	defaults := c.IGMP
	if vc.Family == "ipv6" {
		defaults = c.MLD
	}

	settings := mgroup.DefaultSettings(mgroup.ProtoVersion(pickInt(vc.ProtoVersion, defaults.ProtoVersion)))
	settings.RouterAlertCheck = defaults.IPRouterAlertOptionCheck
	if vc.IPRouterAlertOptionCheck != nil {
		settings.RouterAlertCheck = *vc.IPRouterAlertOptionCheck
	}
	settings.QueryInterval = pickDuration(vc.QueryInterval, defaults.QueryInterval)
	settings.QueryLastMemberInterval = pickDuration(vc.QueryLastMemberInterval, defaults.QueryLastMemberInterval)
	settings.QueryResponseInterval = pickDuration(vc.QueryResponseInterval, defaults.QueryResponseInterval)
	settings.RobustCount = pickUint(vc.RobustCount, defaults.RobustCount)

	return mgroup.VifDesc{
		Index:       vifIndex(vc.Name),
		Name:        vc.Name,
		PrimaryAddr: primary,
		Addrs:       addrs,
		Settings:    settings,
	}, nil
}

// vifIndex resolves the OS network-interface index to use as
// mgroup.VifDesc.Index. A vif whose underlying interface cannot be
// resolved (not yet created, e.g. during early boot) gets index 0;
// Node.ReconcileVifs still keys primarily by name, so this only
// affects the vifs map's bookkeeping key, not vif identity.
func vifIndex(ifName string) uint32 {
	iface, err := net.InterfaceByName(ifName)
	if err != nil {
		return 0
	}
	//nolint:gosec // G115: OS interface indices are always small positive integers.
	return uint32(iface.Index)
}

func pickInt(override, fallback int) int {
	if override != 0 {
		return override
	}
	return fallback
}

func pickDuration(override, fallback time.Duration) time.Duration {
	if override != 0 {
		return override
	}
	return fallback
}

func pickUint(override, fallback uint) uint {
	if override != 0 {
		return override
	}
	return fallback
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the
// corresponding slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
