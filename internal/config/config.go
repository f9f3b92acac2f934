package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"talin-bridge/internal/pdi"
)

type Config struct {
	Talin      TalinConfig     `yaml:"talin"`
	UDP        UDPConfig       `yaml:"udp"`
	TCP        TCPConfig       `yaml:"tcp"`
	Scheduler  SchedulerConfig `yaml:"scheduler"`
	Web        WebConfig       `yaml:"web"`
	Indicator  IndicatorConfig `yaml:"indicator"`
	StaleAfter time.Duration   `yaml:"stale_after"`
}

type TalinConfig struct {
	Address string `yaml:"address"`
	UDPPort int    `yaml:"udp_port"`
	TCPPort int    `yaml:"tcp_port"`
}

type UDPConfig struct {
	ListenPort int `yaml:"listen_port"`
	DSCP       int `yaml:"dscp"`

	// TimestampWindow in ms; 0 disables the filter.
	TimestampWindow uint32 `yaml:"timestamp_window"`
}

type TCPConfig struct {
	Rate          string        `yaml:"rate"`
	ValidateCRC   bool          `yaml:"validate_crc"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
}

type SchedulerConfig struct {
	Period time.Duration `yaml:"period"`
}

type WebConfig struct {
	Listen string `yaml:"listen"`
}

type IndicatorConfig struct {
	GPIOPin int `yaml:"gpio_pin"`
}

const (
	DefaultListenPort = 50121
	DefaultPeriod     = 25 * time.Millisecond
	DefaultRetry      = 3 * time.Second
	DefaultDial       = 2 * time.Second
	DefaultStaleAfter = 3 * time.Second
)

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			return Config{}, fmt.Errorf("config contains unknown fields: %v", strings.Join(te.Errors, "; "))
		}
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills zero values and rejects unusable settings.
func DefaultAndValidate(cfg *Config) error {
	if cfg.Talin.Address == "" {
		return fmt.Errorf("talin.address is required")
	}
	if cfg.Talin.UDPPort <= 0 || cfg.Talin.UDPPort > 65535 {
		return fmt.Errorf("talin.udp_port must be in 1..65535")
	}
	if cfg.Talin.TCPPort <= 0 || cfg.Talin.TCPPort > 65535 {
		return fmt.Errorf("talin.tcp_port must be in 1..65535")
	}

	if cfg.UDP.ListenPort == 0 {
		cfg.UDP.ListenPort = DefaultListenPort
	}
	if cfg.UDP.ListenPort < 0 || cfg.UDP.ListenPort > 65535 {
		return fmt.Errorf("udp.listen_port must be in 1..65535")
	}
	if cfg.UDP.DSCP < 0 || cfg.UDP.DSCP > 63 {
		return fmt.Errorf("udp.dscp must be in 0..63")
	}

	if _, err := pdi.ParseDataRate(cfg.TCP.Rate); err != nil {
		return fmt.Errorf("tcp.rate: %w", err)
	}
	if cfg.TCP.RetryInterval <= 0 {
		cfg.TCP.RetryInterval = DefaultRetry
	}
	if cfg.TCP.DialTimeout <= 0 {
		cfg.TCP.DialTimeout = DefaultDial
	}
	if cfg.TCP.DialTimeout > cfg.TCP.RetryInterval {
		return fmt.Errorf("tcp.dial_timeout must not exceed tcp.retry_interval")
	}

	if cfg.Scheduler.Period <= 0 {
		cfg.Scheduler.Period = DefaultPeriod
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Indicator.GPIOPin < 0 {
		return fmt.Errorf("indicator.gpio_pin must be >= 0")
	}
	if cfg.Web.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Web.Listen); err != nil {
			return fmt.Errorf("web.listen: %w", err)
		}
	}
	return nil
}

// DataRate returns the parsed tcp.rate. Only valid after DefaultAndValidate.
func (c Config) DataRate() pdi.DataRate {
	r, _ := pdi.ParseDataRate(c.TCP.Rate)
	return r
}

func (c Config) TalinUDPAddr() string {
	return net.JoinHostPort(c.Talin.Address, strconv.Itoa(c.Talin.UDPPort))
}

func (c Config) TalinTCPAddr() string {
	return net.JoinHostPort(c.Talin.Address, strconv.Itoa(c.Talin.TCPPort))
}

func (c Config) ListenAddr() string {
	return net.JoinHostPort("", strconv.Itoa(c.UDP.ListenPort))
}
