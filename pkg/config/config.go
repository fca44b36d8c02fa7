package config

import (
	"runtime"
	"strings"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	serverlogger "github.com/voxcast/voxcast-server/pkg/logger"
)

var (
	ErrNoWorkers        = errors.New("media.num_workers must be at least 1")
	ErrInvalidPortRange = errors.New("rtc port range is invalid")
)

type Config struct {
	Port          uint32        `yaml:"port,omitempty"`
	BindAddresses []string      `yaml:"bind_addresses,omitempty"`
	RTC           RTCConfig     `yaml:"rtc,omitempty"`
	Media         MediaConfig   `yaml:"media,omitempty"`
	Room          RoomConfig    `yaml:"room,omitempty"`
	Logging       LoggingConfig `yaml:"logging,omitempty"`

	Development bool `yaml:"development,omitempty"`
}

type RTCConfig struct {
	// UDP port range handed to each media worker
	PortRangeStart uint16 `yaml:"port_range_start,omitempty"`
	PortRangeEnd   uint16 `yaml:"port_range_end,omitempty"`

	STUNServers []string `yaml:"stun_servers,omitempty"`
}

type MediaConfig struct {
	// number of media workers, defaults to the CPU count
	NumWorkers int `yaml:"num_workers,omitempty"`
	// delay between a fatal worker fault and process shutdown
	DiedGracePeriod time.Duration `yaml:"died_grace_period,omitempty"`
}

type RoomConfig struct {
	Codecs []CodecSpec `yaml:"codecs,omitempty"`
}

type CodecSpec struct {
	MimeType  string `yaml:"mime_type"`
	ClockRate uint32 `yaml:"clock_rate"`
	Channels  uint16 `yaml:"channels,omitempty"`
}

type LoggingConfig struct {
	// valid levels: debug, info, warn, error
	Level string `yaml:"level,omitempty"`
	JSON  bool   `yaml:"json,omitempty"`
}

func NewConfig(confString string, strictMode bool, c *cli.Context) (*Config, error) {
	conf := &Config{
		Port: 7880,
		RTC: RTCConfig{
			PortRangeStart: 50000,
			PortRangeEnd:   60000,
		},
		Media: MediaConfig{
			NumWorkers:      runtime.NumCPU(),
			DiedGracePeriod: 2 * time.Second,
		},
	}

	if confString != "" {
		decoder := yaml.NewDecoder(strings.NewReader(confString))
		decoder.KnownFields(strictMode)
		if err := decoder.Decode(conf); err != nil {
			return nil, errors.Wrap(err, "could not parse config")
		}
	}

	if c != nil {
		if err := conf.updateFromCLI(c); err != nil {
			return nil, err
		}
	}

	if len(conf.Room.Codecs) == 0 {
		conf.Room.Codecs = DefaultCodecs()
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// DefaultCodecs matches what browsers negotiate for conferencing: Opus
// audio and VP8 video.
func DefaultCodecs() []CodecSpec {
	return []CodecSpec{
		{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
	}
}

func (conf *Config) Validate() error {
	if conf.Media.NumWorkers < 1 {
		return ErrNoWorkers
	}
	if conf.RTC.PortRangeEnd < conf.RTC.PortRangeStart {
		return ErrInvalidPortRange
	}
	return nil
}

func (conf *Config) updateFromCLI(c *cli.Context) error {
	if c.IsSet("bind") {
		conf.BindAddresses = c.StringSlice("bind")
	}
	if c.IsSet("port") {
		conf.Port = uint32(c.Uint("port"))
	}
	if c.IsSet("media-workers") {
		conf.Media.NumWorkers = c.Int("media-workers")
	}
	if c.Bool("dev") {
		conf.Development = true
		conf.Logging.Level = "debug"
	}
	return nil
}

// CodecCapabilities converts the configured codec list into the engine's
// capability form.
func (r RoomConfig) CodecCapabilities() []webrtc.RTPCodecCapability {
	codecs := make([]webrtc.RTPCodecCapability, 0, len(r.Codecs))
	for _, c := range r.Codecs {
		codecs = append(codecs, webrtc.RTPCodecCapability{
			MimeType:  c.MimeType,
			ClockRate: c.ClockRate,
			Channels:  c.Channels,
		})
	}
	return codecs
}

func InitLoggerFromConfig(conf LoggingConfig) {
	if conf.JSON {
		serverlogger.InitProduction(conf.Level)
	} else {
		serverlogger.InitDevelopment(conf.Level)
	}
}
