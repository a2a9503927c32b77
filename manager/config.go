package manager

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"

	"github.com/wlansys/orcactl/ap"
	"github.com/wlansys/orcactl/helpers"
	"github.com/wlansys/orcactl/log2"
	"github.com/wlansys/orcactl/orca"
	"github.com/wlansys/orcactl/rc"
)

const (
	DefaultHeaderTimeout = 10 * time.Second
	DefaultReconnectMin  = 1 * time.Second
	DefaultReconnectMax  = 60 * time.Second
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	LogDebug bool `hcl:"log_debug"`

	// milliseconds; zero means the package defaults
	NetworkTimeoutMS int `hcl:"network_timeout_ms"`
	HeaderTimeoutMS  int `hcl:"header_timeout_ms"`
	ReconnectMinMS   int `hcl:"reconnect_min_ms"`
	ReconnectMaxMS   int `hcl:"reconnect_max_ms"`

	// monitor events enabled after bootstrap, e.g. txs, rxs, stats
	Events []string `hcl:"events"`

	Control struct {
		Algorithm string                   `hcl:"algorithm"`
		Options   []map[string]interface{} `hcl:"options"`
	} `hcl:"control"`

	APs []APConfig `hcl:"ap"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

type APConfig struct {
	Name   string   `hcl:"name,key"`
	Addr   string   `hcl:"addr"`
	Port   int      `hcl:"port"`
	Events []string `hcl:"events"`
}

// AddrPort joins addr and port, defaulting to the protocol port.
func (a *APConfig) AddrPort() string {
	port := a.Port
	if port == 0 {
		port = orca.DefaultPort
	}
	return fmt.Sprintf("%s:%d", a.Addr, port)
}

func (c *Config) NetworkTimeout() time.Duration {
	if c.NetworkTimeoutMS <= 0 {
		return orca.DefaultNetworkTimeout
	}
	return time.Duration(c.NetworkTimeoutMS) * time.Millisecond
}

func (c *Config) HeaderTimeout() time.Duration {
	if c.HeaderTimeoutMS <= 0 {
		return DefaultHeaderTimeout
	}
	return time.Duration(c.HeaderTimeoutMS) * time.Millisecond
}

func (c *Config) ReconnectMin() time.Duration {
	if c.ReconnectMinMS <= 0 {
		return DefaultReconnectMin
	}
	return time.Duration(c.ReconnectMinMS) * time.Millisecond
}

func (c *Config) ReconnectMax() time.Duration {
	if c.ReconnectMaxMS <= 0 {
		return DefaultReconnectMax
	}
	return time.Duration(c.ReconnectMaxMS) * time.Millisecond
}

// DefaultAlgorithm names the control algorithm applied to stations that
// have none bound.
func (c *Config) DefaultAlgorithm() string {
	if c.Control.Algorithm == "" {
		return rc.KernelAlgorithm
	}
	return c.Control.Algorithm
}

// DefaultControlOptions folds the control options blocks into one map.
func (c *Config) DefaultControlOptions() ap.ControlOptions {
	if len(c.Control.Options) == 0 {
		return nil
	}
	opts := make(ap.ControlOptions)
	for _, m := range c.Control.Options {
		for k, v := range m {
			opts[k] = v
		}
	}
	return opts
}

// APEvents picks the per-AP event list, falling back to the global one.
func (c *Config) APEvents(a *APConfig) []string {
	if len(a.Events) > 0 {
		return a.Events
	}
	return c.Events
}

func (c *Config) validate() error {
	errs := make([]error, 0, 4)
	seen := make(map[string]struct{}, len(c.APs))
	for i := range c.APs {
		a := &c.APs[i]
		if a.Addr == "" {
			errs = append(errs, errors.NotValidf("ap %q: empty addr", a.Name))
		}
		if _, ok := seen[a.Name]; ok {
			errs = append(errs, errors.NotValidf("ap %q: duplicate", a.Name))
		}
		seen[a.Name] = struct{}{}
	}
	if alg := c.Control.Algorithm; alg != "" && strings.ContainsAny(alg, "; \t") {
		errs = append(errs, errors.NotValidf("control algorithm %q", alg))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		log.Fatalf("config duplicate source=%s", source.Name)
	} else {
		log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	}
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
			return
		}
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if err := helpers.FoldErrors(errs); err != nil {
		return c, err
	}
	return c, c.validate()
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
