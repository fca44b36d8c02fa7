package media

import (
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
)

func TestKindFromMimeType(t *testing.T) {
	require.Equal(t, KindAudio, KindFromMimeType("audio/opus"))
	require.Equal(t, KindVideo, KindFromMimeType("Video/VP8"))
	require.Equal(t, Kind(""), KindFromMimeType("application/sdp"))
}

func TestCodecCanBeConsumed(t *testing.T) {
	vp8 := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	caps := webrtc.RTPCapabilities{Codecs: []webrtc.RTPCodecCapability{
		{MimeType: "video/vp8", ClockRate: 90000},
		{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
	}}

	require.True(t, CodecCanBeConsumed(vp8, caps))

	// clock rate mismatch is a rejection, not a match
	h264 := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000}
	require.False(t, CodecCanBeConsumed(h264, caps))
	require.False(t, CodecCanBeConsumed(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 100000}, caps))

	require.False(t, CodecCanBeConsumed(vp8, webrtc.RTPCapabilities{}))
}
