package transport

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-monochromator/logger"
)

// Config holds the connection parameters of a session. They are fixed for the life of the
// session.
type Config struct {
	mu sync.RWMutex

	// host specifies the host of the controller.
	host string
	// port specifies the TCP port of the controller.
	port int

	// connectTimeout bounds the TCP handshake. It should be between 0.01 and 600 seconds.
	// Defaults to 10 seconds.
	connectTimeout time.Duration
	// readTimeout bounds the wait for one reply line. It should be between 0.01 and 600 seconds.
	// Defaults to 10 seconds.
	readTimeout time.Duration
	// writeTimeout bounds writing one request line. It should be between 0.01 and 600 seconds.
	// Defaults to 10 seconds.
	writeTimeout time.Duration

	// keepAlive is the TCP keep-alive period. Zero selects the operating system default,
	// a negative value disables keep-alive. Defaults to 30 seconds.
	keepAlive time.Duration

	logger logger.Logger
}

// NewConfig creates a session configuration for the controller at host:port with the given
// options applied on top of the defaults.
func NewConfig(host string, port int, opts ...ConnOption) (*Config, error) {
	cfg := &Config{
		connectTimeout: 10 * time.Second,
		readTimeout:    10 * time.Second,
		writeTimeout:   10 * time.Second,
		keepAlive:      30 * time.Second,
		logger:         logger.GetLogger(),
	}

	if err := withHost(host).apply(cfg); err != nil {
		return cfg, err
	}

	if err := withPort(port).apply(cfg); err != nil {
		return cfg, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// Host returns the controller host.
func (cfg *Config) Host() string {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.host
}

// Port returns the controller port.
func (cfg *Config) Port() int {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.port
}

// Address returns host:port.
func (cfg *Config) Address() string {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port))
}

func (cfg *Config) ConnectTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.connectTimeout
}

func (cfg *Config) ReadTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.readTimeout
}

func (cfg *Config) WriteTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.writeTimeout
}

func (cfg *Config) KeepAlive() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.keepAlive
}

// Logger returns the logger sessions built from cfg log with.
func (cfg *Config) Logger() logger.Logger {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.logger
}

// ConnOption represents a functional option for configuring a Config.
type ConnOption interface {
	apply(*Config) error
}

type connOptFunc struct {
	name      string
	applyFunc func(*Config) error
}

func (c *connOptFunc) apply(cfg *Config) error {
	if cfg == nil {
		return ErrConfigNil
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	return c.applyFunc(cfg)
}

func newConnOptFunc(name string, f func(*Config) error) *connOptFunc {
	return &connOptFunc{name: name, applyFunc: f}
}

// withHost validates host syntactically: an IP address or a DNS name. It does not resolve
// the name; resolution happens when connecting.
func withHost(host string) ConnOption {
	return newConnOptFunc("withHost", func(cfg *Config) error {
		if ip := net.ParseIP(host); ip != nil {
			cfg.host = host
			return nil
		}

		host = strings.TrimSuffix(host, ".")
		if !validHostname(host) {
			return errors.New("invalid host")
		}
		cfg.host = host

		return nil
	})
}

func withPort(port int) ConnOption {
	return newConnOptFunc("withPort", func(cfg *Config) error {
		if port < 1 || port > 65535 {
			return errors.New("port is out of range [1, 65535]")
		}
		cfg.port = port

		return nil
	})
}

func validTimeout(val time.Duration) bool {
	return val >= 10*time.Millisecond && val <= 600*time.Second
}

// WithConnectTimeout sets the timeout for establishing the TCP connection.
// An error is returned if the timeout is outside the valid range (0.01-600 seconds).
//
// The default value is 10 seconds.
func WithConnectTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithConnectTimeout", func(cfg *Config) error {
		if !validTimeout(val) {
			return errors.New("connect timeout out of range [0.01, 600]")
		}
		cfg.connectTimeout = val

		return nil
	})
}

// WithReadTimeout sets the timeout for reading one reply line.
// An error is returned if the timeout is outside the valid range (0.01-600 seconds).
//
// The default value is 10 seconds.
func WithReadTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithReadTimeout", func(cfg *Config) error {
		if !validTimeout(val) {
			return errors.New("read timeout out of range [0.01, 600]")
		}
		cfg.readTimeout = val

		return nil
	})
}

// WithWriteTimeout sets the timeout for writing one request line.
// An error is returned if the timeout is outside the valid range (0.01-600 seconds).
//
// The default value is 10 seconds.
func WithWriteTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithWriteTimeout", func(cfg *Config) error {
		if !validTimeout(val) {
			return errors.New("write timeout out of range [0.01, 600]")
		}
		cfg.writeTimeout = val

		return nil
	})
}

// WithKeepAlive sets the TCP keep-alive period. Zero selects the operating system default
// and a negative value disables keep-alive.
//
// The default value is 30 seconds.
func WithKeepAlive(val time.Duration) ConnOption {
	return newConnOptFunc("WithKeepAlive", func(cfg *Config) error {
		cfg.keepAlive = val
		return nil
	})
}

// WithLogger sets the logger of the session.
func WithLogger(l logger.Logger) ConnOption {
	return newConnOptFunc("WithLogger", func(cfg *Config) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}

func validHostname(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}

	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			isAlnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
			if !isAlnum && c != '-' && c != '_' {
				return false
			}
		}
	}

	return true
}
