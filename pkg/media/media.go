// Package media defines the contract between the signaling layer and the
// media-routing engine. The engine owns RTP/RTCP/ICE/DTLS; this layer only
// sequences its objects: a Worker hosts Routers, a Router hosts Transports,
// a Transport carries Producers (inbound streams) and Consumers (outbound
// deliveries of another transport's producer).
package media

import (
	"strings"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
)

var (
	ErrProducerNotFound      = errors.New("producer not found on router")
	ErrCannotConsume         = errors.New("capabilities cannot consume producer")
	ErrTransportClosed       = errors.New("transport has already closed")
	ErrTransportNotConnected = errors.New("transport is not connected")
	ErrInvalidRTPParameters  = errors.New("rtp parameters are missing codecs or encodings")
	ErrICEParametersRequired = errors.New("connect requires remote ice parameters")
	ErrNoPoolWorkers         = errors.New("pool requires at least one worker")
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

func (k Kind) CodecType() webrtc.RTPCodecType {
	switch k {
	case KindAudio:
		return webrtc.RTPCodecTypeAudio
	case KindVideo:
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecType(0)
}

func KindFromMimeType(mimeType string) Kind {
	switch {
	case strings.HasPrefix(strings.ToLower(mimeType), "audio/"):
		return KindAudio
	case strings.HasPrefix(strings.ToLower(mimeType), "video/"):
		return KindVideo
	}
	return ""
}

// RTPParameters describes one produced or consumed stream: negotiated codecs
// plus the encodings (SSRC/payload type) the packets arrive or leave with.
type RTPParameters struct {
	MID              string                               `json:"mid,omitempty"`
	Codecs           []webrtc.RTPCodecParameters          `json:"codecs"`
	HeaderExtensions []webrtc.RTPHeaderExtensionParameter `json:"headerExtensions,omitempty"`
	Encodings        []webrtc.RTPCodingParameters         `json:"encodings"`
}

// TransportInfo is the connection material relayed to the browser after
// transport creation.
type TransportInfo struct {
	ID             string                `json:"id"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

// ConnectParams completes a transport's handshake. DTLS parameters are
// always required; the ICE fields are needed by engine bindings that are not
// ICE-lite.
type ConnectParams struct {
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
	ICEParameters  *webrtc.ICEParameters `json:"iceParameters,omitempty"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates,omitempty"`
}

type WorkerOptions struct {
	PortRangeStart uint16
	PortRangeEnd   uint16
	STUNServers    []string
	LoggerFactory  logging.LoggerFactory
}

type Engine interface {
	NewWorker(opts WorkerOptions) (Worker, error)
}

type Worker interface {
	ID() string
	NewRouter(codecs []webrtc.RTPCodecCapability) (Router, error)
	// OnDied registers the handler for a fatal worker fault. Workers are not
	// recoverable; the handler is expected to take the process down.
	OnDied(f func(err error))
	Close() error
}

type Router interface {
	ID() string
	RTPCapabilities() webrtc.RTPCapabilities
	NewTransport() (Transport, error)
	HasProducer(producerID string) bool
	CanConsume(producerID string, caps webrtc.RTPCapabilities) bool
	Close() error
}

type Transport interface {
	ID() string
	Info() TransportInfo
	Connect(params ConnectParams) error
	Produce(kind Kind, params RTPParameters) (Producer, error)
	Consume(producerID string, caps webrtc.RTPCapabilities) (Consumer, error)
	Close() error
}

type Producer interface {
	ID() string
	Kind() Kind
	Closed() bool
	Close() error
}

// Consumer starts paused; the client signals resume once its side is wired
// up, mirroring the browser-side consume flow.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() Kind
	RTPParameters() RTPParameters
	Paused() bool
	Pause()
	Resume()
	Closed() bool
	Close() error
}

// CodecCanBeConsumed reports whether receive capabilities cover a producer's
// codec. Mime type comparison is case-insensitive; clock rate must match.
func CodecCanBeConsumed(codec webrtc.RTPCodecCapability, caps webrtc.RTPCapabilities) bool {
	for _, c := range caps.Codecs {
		if strings.EqualFold(c.MimeType, codec.MimeType) && c.ClockRate == codec.ClockRate {
			return true
		}
	}
	return false
}
