// Package config loads the daemon configuration file.
package config

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"gopkg.in/yaml.v3"

	"github.com/hostinger/neighsync/internal/dataplane"
	"github.com/hostinger/neighsync/internal/neighbor"
)

const (
	errNoInterface   errors.Error = "no interface"
	errBadIP         errors.Error = "bad ip address"
	errBadMAC        errors.Error = "bad mac address"
	errBadInterval   errors.Error = "interval must be positive"
	errDuplicateBind errors.Error = "duplicate binding"
)

// Binding is a static neighbor entry as written in the file.
type Binding struct {
	Interface string `yaml:"interface"`
	IP        string `yaml:"ip"`
	MAC       string `yaml:"mac"`
}

type Config struct {
	// Interface receives the bindings learned by the sniffer.
	Interface    string        `yaml:"interface"`
	APIAddress   string        `yaml:"api_address"`
	Sniffer      bool          `yaml:"sniffer"`
	Debug        bool          `yaml:"debug"`
	SyncInterval time.Duration `yaml:"sync_interval"`
	PingInterval time.Duration `yaml:"ping_interval"`
	ScanInterval time.Duration `yaml:"scan_interval"`
	Timeout      time.Duration `yaml:"command_timeout"`
	Bindings     []Binding     `yaml:"bindings"`
}

func Default() *Config {
	return &Config{
		APIAddress:   "127.0.0.1:54321",
		SyncInterval: time.Minute,
		PingInterval: 30 * time.Second,
		ScanInterval: 30 * time.Second,
		Timeout:      10 * time.Second,
	}
}

// Load reads the file at path over the defaults. An empty path returns the
// defaults.
func Load(path string) (conf *Config, err error) {
	conf = Default()
	if path == "" {
		return conf, nil
	}

	defer func() { err = errors.Annotate(err, "loading config %q: %w", path) }()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err = dec.Decode(conf); err != nil {
		return nil, err
	}

	if err = conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

// Validate reports every problem found in c.
func (c *Config) Validate() error {
	var errs []error

	for name, d := range map[string]time.Duration{
		"sync_interval":   c.SyncInterval,
		"ping_interval":   c.PingInterval,
		"scan_interval":   c.ScanInterval,
		"command_timeout": c.Timeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s: %w", name, errBadInterval))
		}
	}

	if c.Sniffer && c.Interface == "" {
		errs = append(errs, fmt.Errorf("sniffer: %w", errNoInterface))
	}

	seen := make(map[string]bool)
	for i, b := range c.Bindings {
		if err := b.validate(); err != nil {
			errs = append(errs, fmt.Errorf("bindings[%d]: %w", i, err))
			continue
		}

		key := b.Interface + "/" + netip.MustParseAddr(b.IP).Unmap().String()
		if seen[key] {
			errs = append(errs, fmt.Errorf("bindings[%d]: %w: %s", i, errDuplicateBind, key))
		}
		seen[key] = true
	}

	return errors.Join(errs...)
}

func (b Binding) validate() error {
	if b.Interface == "" {
		return errNoInterface
	}

	if _, err := netip.ParseAddr(b.IP); err != nil {
		return fmt.Errorf("%w: %q", errBadIP, b.IP)
	}

	if mac, err := net.ParseMAC(b.MAC); err != nil || len(mac) != 6 {
		return fmt.Errorf("%w: %q", errBadMAC, b.MAC)
	}

	return nil
}

// Resolver maps an interface name to its dataplane handle.
type Resolver func(name string) (dataplane.Handle, error)

// ResolveBindings converts the configured bindings, looking interfaces up
// with resolve.
func (c *Config) ResolveBindings(resolve Resolver) ([]neighbor.Binding, error) {
	out := make([]neighbor.Binding, 0, len(c.Bindings))
	for _, b := range c.Bindings {
		itf, err := resolve(b.Interface)
		if err != nil {
			return nil, fmt.Errorf("resolving interface %q: %w", b.Interface, err)
		}

		ip, err := netip.ParseAddr(b.IP)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", errBadIP, b.IP)
		}

		mac, err := net.ParseMAC(b.MAC)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", errBadMAC, b.MAC)
		}

		out = append(out, neighbor.Binding{Interface: itf, IP: ip.Unmap(), HardwareAddr: mac})
	}

	return out, nil
}
