package config

import (
	"runtime"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	conf, err := NewConfig("", true, nil)
	require.NoError(t, err)

	require.EqualValues(t, 7880, conf.Port)
	require.Equal(t, runtime.NumCPU(), conf.Media.NumWorkers)
	require.Equal(t, 2*time.Second, conf.Media.DiedGracePeriod)
	require.Len(t, conf.Room.Codecs, 2)
	require.Equal(t, webrtc.MimeTypeOpus, conf.Room.Codecs[0].MimeType)
}

func TestConfigBody(t *testing.T) {
	body := `
port: 9000
media:
  num_workers: 3
rtc:
  port_range_start: 40000
  port_range_end: 40100
room:
  codecs:
    - mime_type: video/VP8
      clock_rate: 90000
`
	conf, err := NewConfig(body, true, nil)
	require.NoError(t, err)

	require.EqualValues(t, 9000, conf.Port)
	require.Equal(t, 3, conf.Media.NumWorkers)
	require.EqualValues(t, 40000, conf.RTC.PortRangeStart)
	require.Len(t, conf.Room.Codecs, 1)

	caps := conf.Room.CodecCapabilities()
	require.Len(t, caps, 1)
	require.Equal(t, "video/VP8", caps[0].MimeType)
}

func TestStrictModeRejectsUnknownKeys(t *testing.T) {
	_, err := NewConfig("no_such_key: true\n", true, nil)
	require.Error(t, err)

	_, err = NewConfig("no_such_key: true\n", false, nil)
	require.NoError(t, err)
}

func TestValidation(t *testing.T) {
	_, err := NewConfig("media:\n  num_workers: -1\n", true, nil)
	require.ErrorIs(t, err, ErrNoWorkers)

	_, err = NewConfig("rtc:\n  port_range_start: 50000\n  port_range_end: 4000\n", true, nil)
	require.ErrorIs(t, err, ErrInvalidPortRange)
}
