package common

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	DefaultMaxConcurrentChannels = 20
	DefaultResponseTimeout       = 20 * time.Second
	DefaultIdleCacheSize         = 5
	DefaultReadBufferSize        = 1024 * 1024 // 1 MiB
	DefaultConnectTimeout        = 5 * time.Second
	DefaultMaxFrameLength        = 16 * 1024 * 1024 // 16 MiB

	DefaultServerTimeout    = 20 * time.Second
	DefaultServerMaxWorkers = 64
	DefaultIdGrabSize       = 1000
)

// --------------------------------------------------------------------------
// Socket configuration
// --------------------------------------------------------------------------

// TCPConf holds TCP specific socket options
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig configures a master client. The zero value of every numeric
// field means "use the default".
type ClientConfig struct {
	// Host and Port of the (already resolved) master
	Host string
	Port int

	// LocalID names this client in diagnostic output only
	LocalID string

	// Pool parameters
	MaxConcurrentChannels int
	IdleCacheSize         int
	ReadBufferSize        int
	MaxFrameLength        int

	// Timeouts. LeaseTimeout bounds the wait for a free channel, 0 waits until
	// the caller's context is done.
	ResponseTimeout time.Duration
	ConnectTimeout  time.Duration
	LeaseTimeout    time.Duration

	TCP TCPConf
}

// NewClientConfig returns a configuration for host:port with all defaults set.
func NewClientConfig(host string, port int) ClientConfig {
	return ClientConfig{
		Host: host,
		Port: port,
		TCP:  TCPConf{TCPNoDelay: true},
	}.WithDefaults()
}

// WithDefaults returns a copy of the configuration with every unset field
// replaced by its default.
func (c ClientConfig) WithDefaults() ClientConfig {
	if c.MaxConcurrentChannels <= 0 {
		c.MaxConcurrentChannels = DefaultMaxConcurrentChannels
	}
	if c.IdleCacheSize <= 0 {
		c.IdleCacheSize = DefaultIdleCacheSize
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.MaxFrameLength <= 0 {
		c.MaxFrameLength = DefaultMaxFrameLength
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.LeaseTimeout < 0 {
		c.LeaseTimeout = 0
	}
	if c.LocalID == "" {
		c.LocalID = "slave"
	}
	return c
}

// Validate checks the configuration for values that can never work.
func (c ClientConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("no master host provided")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid master port %d", c.Port)
	}
	if c.MaxConcurrentChannels <= 0 {
		return fmt.Errorf("max concurrent channels must be positive, got %d", c.MaxConcurrentChannels)
	}
	if c.IdleCacheSize < 0 {
		return fmt.Errorf("idle cache size must not be negative, got %d", c.IdleCacheSize)
	}
	if c.MaxFrameLength < 4 {
		return fmt.Errorf("max frame length too small: %d", c.MaxFrameLength)
	}
	return nil
}

// Endpoint returns the host:port address of the master
func (c ClientConfig) Endpoint() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Master", c.Endpoint())
	addField("Local ID", c.LocalID)
	addField("Response Timeout", c.ResponseTimeout.String())
	addField("Connect Timeout", c.ConnectTimeout.String())
	if c.LeaseTimeout > 0 {
		addField("Lease Timeout", c.LeaseTimeout.String())
	} else {
		addField("Lease Timeout", "unbounded")
	}

	addSection("Channel Pool")
	addField("Max Channels", strconv.Itoa(c.MaxConcurrentChannels))
	addField("Idle Cache Size", strconv.Itoa(c.IdleCacheSize))
	addField("Read Buffer", fmt.Sprintf("%d KB", c.ReadBufferSize/1024))
	addField("Max Frame Length", fmt.Sprintf("%d KB", c.MaxFrameLength/1024))

	addSection("TCP")
	addField("No Delay", strconv.FormatBool(c.TCP.TCPNoDelay))
	addField("Keep Alive", fmt.Sprintf("%d sec", c.TCP.TCPKeepAliveSec))

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig configures the reference master server.
type ServerConfig struct {
	// Endpoint the server listens on (host:port)
	Endpoint string

	// MasterID is the machine id reported for transactions committed here
	MasterID int32

	// IdGrabSize is the number of ids handed out per allocation
	IdGrabSize int

	// Transport parameters
	Timeout        time.Duration
	MaxWorkers     int
	ReadBufferSize int
	MaxFrameLength int

	// StatsInterval controls how often server metrics are logged (0 = never)
	StatsInterval time.Duration

	// Logging configuration
	LogLevel string
}

// WithDefaults returns a copy of the configuration with every unset field
// replaced by its default.
func (c ServerConfig) WithDefaults() ServerConfig {
	if c.IdGrabSize <= 0 {
		c.IdGrabSize = DefaultIdGrabSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultServerTimeout
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultServerMaxWorkers
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.MaxFrameLength <= 0 {
		c.MaxFrameLength = DefaultMaxFrameLength
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return c
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Master Server")
	addField("Endpoint", c.Endpoint)
	addField("Master ID", strconv.Itoa(int(c.MasterID)))
	addField("Id Grab Size", strconv.Itoa(c.IdGrabSize))
	addField("Timeout", c.Timeout.String())
	addField("Max Workers", strconv.Itoa(c.MaxWorkers))
	addField("Read Buffer", fmt.Sprintf("%d KB", c.ReadBufferSize/1024))

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	if c.StatsInterval > 0 {
		addField("Stats Interval", c.StatsInterval.String())
	}

	return sb.String()
}
