// Package env sets up transports and sessions from defaults, environment
// variables, command line flags and an optional YAML file.
package env

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/robotalks/ardlink/pkg/ipc"
	"github.com/robotalks/ardlink/pkg/link"
	"github.com/robotalks/ardlink/pkg/metrics"
	"github.com/robotalks/ardlink/pkg/serialport"
)

// Transport variants.
const (
	VariantFIFO = "fifo"
	VariantPipe = "pipe"
)

// CommandConfig defines an extension command answered with a fixed line.
type CommandConfig struct {
	Name     string `yaml:"name"`
	Response string `yaml:"response"`
}

// Config provides the options of a link to the peer processor.
type Config struct {
	Serial        serialport.Config `yaml:"serial"`
	Variant       string            `yaml:"variant"`
	PoolSize      int               `yaml:"pool_size"`
	RetryCount    int               `yaml:"retry_count"`
	RetryInterval time.Duration     `yaml:"retry_interval"`
	EchoDelay     time.Duration     `yaml:"echo_delay"`
	ExactMatch    bool              `yaml:"exact_match"`
	RejectBusy    bool              `yaml:"reject_busy"`

	// MQTTBrokerURL enables the MQTT gateway.
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string `yaml:"mqtt"`
	DeviceID      string `yaml:"device_id"`
	MetricsAddr   string `yaml:"metrics_addr"`

	Commands []CommandConfig `yaml:"commands"`
}

var defaultConfig = Config{
	Serial: serialport.Config{
		Name: "/dev/ttyS0",
		Baud: 115200,
	},
	Variant:       VariantFIFO,
	PoolSize:      link.DefaultPoolSize,
	RetryCount:    ipc.DefaultRetryCount,
	RetryInterval: ipc.DefaultRetryInterval,
	EchoDelay:     ipc.DefaultEchoDelay,
}

var configFile string

func init() {
	if val := os.Getenv("ARDLINK_PORT"); val != "" {
		defaultConfig.Serial.Name = val
	}
	if val := os.Getenv("ARDLINK_BAUD"); val != "" {
		if baud, err := strconv.Atoi(val); err == nil {
			defaultConfig.Serial.Baud = baud
		}
	}
	if val := os.Getenv("ARDLINK_VARIANT"); val != "" {
		defaultConfig.Variant = val
	}
	if val := os.Getenv("ARDLINK_MQTT_URL"); val != "" {
		defaultConfig.MQTTBrokerURL = val
	}
	if val := os.Getenv("ARDLINK_DEVICE_ID"); val != "" {
		defaultConfig.DeviceID = val
	}
	configFile = os.Getenv("ARDLINK_CONFIG")
}

func bindFlags(fs *flag.FlagSet, c *Config) {
	fs.StringVar(&c.Serial.Name, "port", c.Serial.Name, "Serial port of the peer processor")
	fs.IntVar(&c.Serial.Baud, "baud", c.Serial.Baud, "Baud rate")
	fs.StringVar(&c.Serial.Parity, "parity", c.Serial.Parity, "Parity: N, E or O")
	fs.StringVar(&c.Variant, "variant", c.Variant, "Transport variant: fifo or pipe")
	fs.IntVar(&c.PoolSize, "buffers", c.PoolSize, "Number of receive line buffers")
	fs.IntVar(&c.RetryCount, "retries", c.RetryCount, "Reply wait retries")
	fs.DurationVar(&c.RetryInterval, "retry-interval", c.RetryInterval, "Reply wait retry interval")
	fs.BoolVar(&c.ExactMatch, "exact-match", c.ExactMatch, "Require command keywords to match exactly")
	fs.BoolVar(&c.RejectBusy, "reject-busy", c.RejectBusy, "Answer ERR BUSY while a command is pending")
	fs.StringVar(&c.MQTTBrokerURL, "mqtt", c.MQTTBrokerURL, "MQTT broker URL, empty disables the gateway")
	fs.StringVar(&c.DeviceID, "id", c.DeviceID, "Device ID, machine ID by default")
	fs.StringVar(&c.MetricsAddr, "metrics", c.MetricsAddr, "Address to serve metrics, empty disables")
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	bindFlags(flag.CommandLine, &defaultConfig)
	flag.StringVar(&configFile, "config", configFile, "YAML config file")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config from the defaults, the config file and the
// command line. Flags given explicitly take precedence over the file.
func NewConfig() (*Config, error) {
	conf := defaultConfig
	if configFile == "" {
		return &conf, nil
	}
	if err := conf.LoadFile(configFile); err != nil {
		return nil, err
	}
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	bindFlags(fs, &conf)
	var err error
	flag.Visit(func(f *flag.Flag) {
		if fs.Lookup(f.Name) != nil && err == nil {
			err = fs.Set(f.Name, f.Value.String())
		}
	})
	return &conf, err
}

// MustNewConfig creates a Config and fails on error.
func MustNewConfig() *Config {
	conf, err := NewConfig()
	if err != nil {
		log.Fatalln(err)
	}
	return conf
}

// LoadFile merges a YAML file into the config.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %v", path, err)
	}
	return nil
}

// ID returns the device ID, the machine ID when not configured.
func (c *Config) ID() string {
	if c.DeviceID == "" {
		c.DeviceID = MachineID()
	}
	return c.DeviceID
}

// NewTransport creates the configured transport variant over dev.
func (c *Config) NewTransport(dev io.ReadWriter, m *metrics.Link) (link.Transport, error) {
	pool := link.NewPool(c.PoolSize)
	switch c.Variant {
	case VariantFIFO, "":
		t := link.NewFIFO(dev, pool)
		t.Metrics = m
		return t, nil
	case VariantPipe:
		t := link.NewPipe(dev, pool)
		t.Metrics = m
		return t, nil
	default:
		return nil, fmt.Errorf("unknown transport variant %q", c.Variant)
	}
}

// OpenTransport opens the serial port and creates the transport.
func (c *Config) OpenTransport(reg *metrics.Registry) (link.Transport, error) {
	port, err := serialport.Open(c.Serial)
	if err != nil {
		return nil, err
	}
	t, err := c.NewTransport(port, metrics.NewLink(reg, c.Serial.Name))
	if err != nil {
		port.Close()
		return nil, err
	}
	return t, nil
}

// ExtensionTable builds the extension commands from the config.
func (c *Config) ExtensionTable() ipc.Table {
	var table ipc.Table
	for _, cmd := range c.Commands {
		table = append(table, ipc.Entry{Name: cmd.Name, Handler: ipc.Canned(cmd.Response)})
	}
	return table
}

// SessionOptions returns the session options of the config.
func (c *Config) SessionOptions(reg *metrics.Registry) []ipc.Option {
	opts := []ipc.Option{
		ipc.WithTimeout(c.RetryCount, c.RetryInterval),
		ipc.WithEchoDelay(c.EchoDelay),
		ipc.WithRejectBusy(c.RejectBusy),
		ipc.WithMetrics(metrics.NewSession(reg, c.Serial.Name)),
	}
	if c.ExactMatch {
		opts = append(opts, ipc.WithMatcher(ipc.ExactMatch))
	}
	return opts
}

// OpenSession opens the transport and starts a session on it.
func (c *Config) OpenSession(reg *metrics.Registry, opts ...ipc.Option) (*ipc.Session, error) {
	t, err := c.OpenTransport(reg)
	if err != nil {
		return nil, err
	}
	s := ipc.New(t, append(c.SessionOptions(reg), opts...)...)
	if err := s.Init(c.ExtensionTable()); err != nil {
		t.Shutdown()
		return nil, fmt.Errorf("init session: %v", err)
	}
	return s, nil
}

// MustOpenSession opens a session and fails on error.
func (c *Config) MustOpenSession(reg *metrics.Registry, opts ...ipc.Option) *ipc.Session {
	s, err := c.OpenSession(reg, opts...)
	if err != nil {
		log.Fatalln(err)
	}
	return s
}
