package tracker

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/gazectl/internal/protocol"
	"github.com/danmuck/gazectl/internal/sink"
)

const (
	DefaultAddress        = "127.0.0.1:4242"
	DefaultReadBufferSize = 4096
)

// MirrorConfig optionally mirrors data-record rows to Redis.
type MirrorConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Channel  string
	ListKey  string
	ListCap  int64
}

func (m MirrorConfig) publisherConfig() sink.PublisherConfig {
	return sink.PublisherConfig{
		Addr:     m.Addr,
		Password: m.Password,
		DB:       m.DB,
		Channel:  m.Channel,
		ListKey:  m.ListKey,
		ListCap:  m.ListCap,
	}
}

// Config defines connection and session behavior.
type Config struct {
	Address         string
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ReadBufferSize  int
	EnableIDs       []string
	SkipCalibration bool
	MaxTailBytes    int
	StopTimeout     time.Duration
	Mirror          MirrorConfig
}

// DefaultConfig matches the vendor server defaults: port 4242, 4 KiB reads.
// ReadTimeout bounds how long a stop request can wait on an idle device.
func DefaultConfig() Config {
	return Config{
		Address:        DefaultAddress,
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    250 * time.Millisecond,
		WriteTimeout:   2 * time.Second,
		ReadBufferSize: DefaultReadBufferSize,
		EnableIDs:      protocol.DefaultEnableIDs(),
		StopTimeout:    5 * time.Second,
		Mirror: MirrorConfig{
			Addr:    "127.0.0.1:6379",
			Channel: "gazectl:records",
			ListCap: 1000,
		},
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Address) == "" {
		c.Address = def.Address
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	if c.EnableIDs == nil {
		c.EnableIDs = def.EnableIDs
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = def.StopTimeout
	}
	if strings.TrimSpace(c.Mirror.Addr) == "" {
		c.Mirror.Addr = def.Mirror.Addr
	}
	if strings.TrimSpace(c.Mirror.Channel) == "" {
		c.Mirror.Channel = def.Mirror.Channel
	}
	if c.Mirror.ListCap <= 0 {
		c.Mirror.ListCap = def.Mirror.ListCap
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return ErrAddressRequired
	}
	if c.ReadBufferSize < 0 {
		return fmt.Errorf("tracker: invalid read buffer size %d", c.ReadBufferSize)
	}
	if c.MaxTailBytes < 0 {
		return fmt.Errorf("tracker: invalid max tail bytes %d", c.MaxTailBytes)
	}
	if _, err := protocol.EnableCommands(c.EnableIDs); err != nil {
		return err
	}
	return nil
}
