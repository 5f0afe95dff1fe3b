/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package app

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"

	"github.com/Juice-Labs/session-proxy/pkg/errors"
	"github.com/Juice-Labs/session-proxy/pkg/forwarder"
	"github.com/Juice-Labs/session-proxy/pkg/logger"
	"github.com/Juice-Labs/session-proxy/pkg/sessionipc"
	"github.com/Juice-Labs/session-proxy/pkg/utilities"
)

const (
	EnvWaylandDisplay = "WAYLAND_DISPLAY"
	EnvRuntimeDir     = "XDG_RUNTIME_DIR"
	EnvListen         = "SESSION_PROXY_SOCKET"
	EnvDrainTimeout   = "SESSION_PROXY_DRAIN_TIMEOUT"
	EnvIdleTimeout    = "SESSION_PROXY_IDLE_TIMEOUT"
	EnvMetricsAddress = "SESSION_PROXY_METRICS_ADDRESS"

	listenSuffix   = "-privileged"
	defaultEnvFile = ".env"
)

var DefaultEnvVars = []string{"WAYLAND_DISPLAY", "DISPLAY", "SWAYSOCK", "NIRI_SOCKET"}

type NotifyMode string

const (
	NotifyAuto   NotifyMode = "auto"
	NotifyAlways NotifyMode = "always"
	NotifyNever  NotifyMode = "never"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	UpstreamPath string
	ListenPath   string

	// -1 when the daemon was not started by a session manager.
	SessionFd int

	SystemdNotify NotifyMode
	EnvVars       []string

	DialTimeout  time.Duration
	DrainTimeout time.Duration
	IdleTimeout  time.Duration

	MetricsAddress string

	// Environment as seen by the daemon, process variables over .env ones.
	// Nil means the process environment.
	Lookup LookupFunc
}

// Announced resolves the variables sent to the session manager. When the
// upstream came from a flag or the config file, WAYLAND_DISPLAY falls back
// to the resolved upstream so clients still reach the compositor.
func (config Config) Announced() LookupFunc {
	lookup := config.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	return func(name string) (string, bool) {
		value, ok := lookup(name)
		if name == EnvWaylandDisplay && value == "" && config.UpstreamPath != "" {
			return config.UpstreamPath, true
		}
		return value, ok
	}
}

// Duration is a time.Duration read from human-readable TOML strings.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

type fileConfig struct {
	Upstream       *string   `toml:"upstream"`
	Listen         *string   `toml:"listen"`
	SystemdNotify  *string   `toml:"systemd_notify"`
	EnvVars        []string  `toml:"env_vars"`
	DialTimeout    *Duration `toml:"dial_timeout"`
	DrainTimeout   *Duration `toml:"drain_timeout"`
	IdleTimeout    *Duration `toml:"idle_timeout"`
	MetricsAddress *string   `toml:"metrics_address"`
}

type Flags struct {
	set *pflag.FlagSet

	configFile     *string
	envFile        *string
	upstream       *string
	listen         *string
	sessionFd      *string
	systemdNotify  *string
	envVars        utilities.CommaValue
	dialTimeout    *time.Duration
	drainTimeout   *time.Duration
	idleTimeout    *time.Duration
	metricsAddress *string
}

func NewFlags(set *pflag.FlagSet) *Flags {
	flags := &Flags{
		set: set,

		configFile:     set.String("config", "", "Reads settings from the given TOML file"),
		envFile:        set.String("env-file", defaultEnvFile, "Reads additional environment variables from the given file"),
		upstream:       set.String("upstream", "", "Compositor socket, absolute or relative to $XDG_RUNTIME_DIR (default $WAYLAND_DISPLAY)"),
		listen:         set.String("listen", "", "Privileged socket to listen on (default $XDG_RUNTIME_DIR/<upstream>-privileged)"),
		sessionFd:      set.String("session-fd", "", "Session manager socket descriptor (default $COSMIC_SESSION_SOCK)"),
		systemdNotify:  set.String("systemd-notify", string(NotifyAuto), "Sends READY=1 to systemd [auto, always, never]"),
		envVars:        utilities.NewCommaValue(DefaultEnvVars...),
		dialTimeout:    set.Duration("dial-timeout", forwarder.DefaultDialTimeout, "Time allowed to connect each session to the compositor"),
		drainTimeout:   set.Duration("drain-timeout", 0, "Closes sessions still running this long after shutdown starts, 0 waits for all of them"),
		idleTimeout:    set.Duration("idle-timeout", 0, "Closes sessions without traffic for this long, 0 disables"),
		metricsAddress: set.String("metrics-address", "", "Serves /health, /v1/status and /metrics on the given host:port"),
	}
	set.Var(flags.envVars, "env-vars", "Comma separated variables sent to the session manager once ready")

	return flags
}

// CommandLine holds the flags registered on the process command line.
var CommandLine = NewFlags(pflag.CommandLine)

// LoadConfig layers defaults, the TOML file, the environment and explicitly
// set flags, in increasing precedence. Every invalid value is
// ErrConfiguration.
func LoadConfig(flags *Flags, lookup LookupFunc) (Config, error) {
	config := Config{
		SessionFd:     -1,
		SystemdNotify: NotifyAuto,
		EnvVars:       append([]string(nil), DefaultEnvVars...),
		DialTimeout:   forwarder.DefaultDialTimeout,
	}

	lookup, err := withEnvFile(lookup, *flags.envFile, flags.set.Changed("env-file"))
	if err != nil {
		return Config{}, err
	}
	config.Lookup = lookup

	var upstream, listen, sessionFd, systemdNotify string
	systemdNotify = string(config.SystemdNotify)

	if *flags.configFile != "" {
		file, err := readConfigFile(*flags.configFile)
		if err != nil {
			return Config{}, err
		}

		assign(&upstream, file.Upstream)
		assign(&listen, file.Listen)
		assign(&systemdNotify, file.SystemdNotify)
		assign(&config.MetricsAddress, file.MetricsAddress)
		if file.EnvVars != nil {
			config.EnvVars = file.EnvVars
		}
		assignDuration(&config.DialTimeout, file.DialTimeout)
		assignDuration(&config.DrainTimeout, file.DrainTimeout)
		assignDuration(&config.IdleTimeout, file.IdleTimeout)
	}

	if value, ok := lookup(EnvWaylandDisplay); ok && value != "" {
		upstream = value
	}
	if value, ok := lookup(EnvListen); ok && value != "" {
		listen = value
	}
	if value, ok := lookup(sessionipc.EnvSocketFd); ok && value != "" {
		sessionFd = value
	}
	if value, ok := lookup(EnvMetricsAddress); ok {
		config.MetricsAddress = value
	}
	for name, target := range map[string]*time.Duration{
		EnvDrainTimeout: &config.DrainTimeout,
		EnvIdleTimeout:  &config.IdleTimeout,
	} {
		if value, ok := lookup(name); ok && value != "" {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return Config{}, errors.ErrConfiguration.Wrapf("%s: %w", name, err)
			}
			*target = duration
		}
	}

	changed := flags.set.Changed
	if changed("upstream") {
		upstream = *flags.upstream
	}
	if changed("listen") {
		listen = *flags.listen
	}
	if changed("session-fd") {
		sessionFd = *flags.sessionFd
	}
	if changed("systemd-notify") {
		systemdNotify = *flags.systemdNotify
	}
	if changed("env-vars") {
		config.EnvVars = *flags.envVars.Value
	}
	if changed("dial-timeout") {
		config.DialTimeout = *flags.dialTimeout
	}
	if changed("drain-timeout") {
		config.DrainTimeout = *flags.drainTimeout
	}
	if changed("idle-timeout") {
		config.IdleTimeout = *flags.idleTimeout
	}
	if changed("metrics-address") {
		config.MetricsAddress = *flags.metricsAddress
	}

	runtimeDir, _ := lookup(EnvRuntimeDir)

	config.UpstreamPath, err = resolveUpstream(upstream, runtimeDir)
	if err != nil {
		return Config{}, err
	}

	config.ListenPath = listen
	if config.ListenPath == "" {
		config.ListenPath = defaultListenPath(config.UpstreamPath, runtimeDir)
	} else if !filepath.IsAbs(config.ListenPath) {
		return Config{}, errors.ErrConfiguration.Wrapf("listen path %s is not absolute", config.ListenPath)
	}

	if sessionFd != "" {
		config.SessionFd, err = sessionipc.ParseFd(sessionFd)
		if err != nil {
			return Config{}, err
		}
	}

	config.SystemdNotify = NotifyMode(strings.ToLower(strings.TrimSpace(systemdNotify)))

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

func (config Config) Validate() error {
	switch config.SystemdNotify {
	case NotifyAuto, NotifyAlways, NotifyNever:
	default:
		return errors.ErrConfiguration.Wrapf("systemd-notify must be auto, always or never, got %q", config.SystemdNotify)
	}

	if config.ListenPath == config.UpstreamPath {
		return errors.ErrConfiguration.Wrapf("listen path %s is the upstream path", config.ListenPath)
	}

	if config.DialTimeout <= 0 {
		return errors.ErrConfiguration.Wrapf("dial timeout must be positive, got %s", config.DialTimeout)
	}
	if config.DrainTimeout < 0 {
		return errors.ErrConfiguration.Wrapf("drain timeout must not be negative, got %s", config.DrainTimeout)
	}
	if config.IdleTimeout < 0 {
		return errors.ErrConfiguration.Wrapf("idle timeout must not be negative, got %s", config.IdleTimeout)
	}

	return nil
}

// resolveUpstream turns a WAYLAND_DISPLAY style value into a socket path.
// Relative names live in the runtime directory, which must be absolute.
func resolveUpstream(upstream string, runtimeDir string) (string, error) {
	if upstream == "" {
		return "", errors.ErrConfiguration.Wrapf("no upstream socket, set %s or --upstream", EnvWaylandDisplay)
	}

	if filepath.IsAbs(upstream) {
		return filepath.Clean(upstream), nil
	}

	if runtimeDir == "" || !filepath.IsAbs(runtimeDir) {
		return "", errors.ErrConfiguration.Wrapf("upstream %s is relative and %s=%q is not an absolute path", upstream, EnvRuntimeDir, runtimeDir)
	}

	return filepath.Join(runtimeDir, upstream), nil
}

func defaultListenPath(upstreamPath string, runtimeDir string) string {
	directory := runtimeDir
	if directory == "" || !filepath.IsAbs(directory) {
		directory = filepath.Dir(upstreamPath)
	}

	return filepath.Join(directory, filepath.Base(upstreamPath)+listenSuffix)
}

func readConfigFile(path string) (fileConfig, error) {
	var file fileConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return file, errors.ErrConfiguration.Wrapf("read config file: %w", err)
	}

	if err := toml.Unmarshal(data, &file); err != nil {
		return file, errors.ErrConfiguration.Wrapf("parse config file %s: %w", path, err)
	}

	return file, nil
}

// withEnvFile layers the variables of path under lookup. A missing default
// file is not an error.
func withEnvFile(lookup LookupFunc, path string, explicit bool) (LookupFunc, error) {
	if path == "" {
		return lookup, nil
	}

	variables, err := godotenv.Read(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return lookup, nil
		}
		return nil, errors.ErrConfiguration.Wrapf("read env file: %w", err)
	}

	logger.Debugf("loaded %d variables from %s", len(variables), path)

	return func(name string) (string, bool) {
		if value, ok := lookup(name); ok {
			return value, true
		}

		value, ok := variables[name]
		return value, ok
	}, nil
}

func assign(target *string, value *string) {
	if value != nil {
		*target = *value
	}
}

func assignDuration(target *time.Duration, value *Duration) {
	if value != nil {
		*target = time.Duration(*value)
	}
}
