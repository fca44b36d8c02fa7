package media

import (
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"github.com/voxcast/voxcast-server/pkg/utils"
)

type pionTransport struct {
	id     string
	router *pionRouter

	api      *webrtc.API
	me       *webrtc.MediaEngine
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	info     TransportInfo

	mu        sync.Mutex
	connected bool
	closed    bool
	producers []*pionProducer
	consumers []*pionConsumer
}

func (r *pionRouter) NewTransport() (Transport, error) {
	me := &webrtc.MediaEngine{}
	for _, codec := range r.codecs {
		params := webrtc.RTPCodecParameters{
			RTPCodecCapability: codec,
			PayloadType:        payloadTypeForCodec(codec),
		}
		if err := me.RegisterCodec(params, KindFromMimeType(codec.MimeType).CodecType()); err != nil {
			return nil, err
		}
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(r.worker.se))

	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: r.worker.iceServers})
	if err != nil {
		return nil, err
	}
	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		return nil, err
	}

	gatherFinished := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gatherFinished)
		}
	})
	if err = gatherer.Gather(); err != nil {
		return nil, err
	}
	<-gatherFinished

	t := &pionTransport{
		id:       utils.NewGuid(utils.TransportPrefix),
		router:   r,
		api:      api,
		me:       me,
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
	}
	t.info.ID = t.id
	if t.info.ICECandidates, err = gatherer.GetLocalCandidates(); err != nil {
		return nil, err
	}
	if t.info.ICEParameters, err = gatherer.GetLocalParameters(); err != nil {
		return nil, err
	}
	if t.info.DTLSParameters, err = dtls.GetLocalParameters(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *pionTransport) ID() string {
	return t.id
}

func (t *pionTransport) Info() TransportInfo {
	return t.info
}

func (t *pionTransport) Connect(params ConnectParams) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}
	if t.connected {
		return nil
	}
	if params.ICEParameters == nil {
		return ErrICEParametersRequired
	}

	if err := t.ice.SetRemoteCandidates(params.ICECandidates); err != nil {
		return err
	}
	role := webrtc.ICERoleControlled
	if err := t.ice.Start(t.gatherer, *params.ICEParameters, &role); err != nil {
		return err
	}
	if err := t.dtls.Start(params.DTLSParameters); err != nil {
		return err
	}
	t.connected = true
	return nil
}

func (t *pionTransport) Produce(kind Kind, params RTPParameters) (Producer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTransportClosed
	}
	if !t.connected {
		return nil, ErrTransportNotConnected
	}
	if len(params.Codecs) == 0 || len(params.Encodings) == 0 {
		return nil, ErrInvalidRTPParameters
	}

	codec := params.Codecs[0]
	enc := params.Encodings[0]

	recv, err := t.api.NewRTPReceiver(kind.CodecType(), t.dtls)
	if err != nil {
		return nil, err
	}
	err = recv.Receive(webrtc.RTPReceiveParameters{Encodings: []webrtc.RTPDecodingParameters{
		{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				RID:         enc.RID,
				SSRC:        enc.SSRC,
				PayloadType: enc.PayloadType,
			},
		},
	}})
	if err != nil {
		return nil, err
	}
	recv.SetRTPParameters(webrtc.RTPParameters{
		HeaderExtensions: params.HeaderExtensions,
		Codecs:           params.Codecs,
	})

	p := &pionProducer{
		id:        utils.NewGuid(utils.ProducerPrefix),
		kind:      kind,
		codec:     codec,
		router:    t.router,
		recv:      recv,
		consumers: make(map[string]*pionConsumer),
	}
	t.producers = append(t.producers, p)
	t.router.registerProducer(p)
	go p.forward()
	return p, nil
}

func (t *pionTransport) Consume(producerID string, caps webrtc.RTPCapabilities) (Consumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTransportClosed
	}
	prod, ok := t.router.producer(producerID)
	if !ok {
		return nil, ErrProducerNotFound
	}
	if !CodecCanBeConsumed(prod.codec.RTPCodecCapability, caps) {
		return nil, ErrCannotConsume
	}

	id := utils.NewGuid(utils.ConsumerPrefix)
	track, err := webrtc.NewTrackLocalStaticRTP(prod.codec.RTPCodecCapability, id, prod.id)
	if err != nil {
		return nil, err
	}
	sdr, err := t.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, err
	}

	ssrc := sdr.GetParameters().Encodings[0].SSRC
	rtpParams := RTPParameters{
		Codecs: []webrtc.RTPCodecParameters{prod.codec},
		Encodings: []webrtc.RTPCodingParameters{
			{SSRC: ssrc, PayloadType: prod.codec.PayloadType},
		},
	}
	err = sdr.Send(webrtc.RTPSendParameters{
		RTPParameters: webrtc.RTPParameters{Codecs: rtpParams.Codecs},
		Encodings: []webrtc.RTPEncodingParameters{
			{
				RTPCodingParameters: webrtc.RTPCodingParameters{
					SSRC:        ssrc,
					PayloadType: prod.codec.PayloadType,
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	c := &pionConsumer{
		id:         id,
		producerID: prod.id,
		kind:       prod.kind,
		params:     rtpParams,
		track:      track,
		sender:     sdr,
		producer:   prod,
	}
	c.paused.Store(true)
	t.consumers = append(t.consumers, c)
	prod.attach(c)
	return c, nil
}

func (t *pionTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	producers := t.producers
	consumers := t.consumers
	t.producers = nil
	t.consumers = nil
	t.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}
	for _, p := range producers {
		_ = p.Close()
	}
	_ = t.dtls.Stop()
	return t.ice.Stop()
}

type pionProducer struct {
	id     string
	kind   Kind
	codec  webrtc.RTPCodecParameters
	router *pionRouter
	recv   *webrtc.RTPReceiver

	mu        sync.RWMutex
	consumers map[string]*pionConsumer
	closed    bool
}

func (p *pionProducer) ID() string {
	return p.id
}

func (p *pionProducer) Kind() Kind {
	return p.kind
}

func (p *pionProducer) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *pionProducer) attach(c *pionConsumer) {
	p.mu.Lock()
	p.consumers[c.id] = c
	p.mu.Unlock()
}

func (p *pionProducer) detach(id string) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

// forward pumps inbound RTP to every attached, unpaused consumer. The loop
// ends when the receiver is stopped.
func (p *pionProducer) forward() {
	track := p.recv.Track()
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		p.mu.RLock()
		for _, c := range p.consumers {
			if c.Paused() {
				continue
			}
			_ = c.writeRTP(pkt)
		}
		p.mu.RUnlock()
	}
}

func (p *pionProducer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	consumers := make([]*pionConsumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.consumers = make(map[string]*pionConsumer)
	p.mu.Unlock()

	p.router.unregisterProducer(p.id)
	for _, c := range consumers {
		_ = c.Close()
	}
	return p.recv.Stop()
}

type pionConsumer struct {
	id         string
	producerID string
	kind       Kind
	params     RTPParameters
	track      *webrtc.TrackLocalStaticRTP
	sender     *webrtc.RTPSender
	producer   *pionProducer

	paused atomic.Bool
	closed atomic.Bool
}

func (c *pionConsumer) ID() string {
	return c.id
}

func (c *pionConsumer) ProducerID() string {
	return c.producerID
}

func (c *pionConsumer) Kind() Kind {
	return c.kind
}

func (c *pionConsumer) RTPParameters() RTPParameters {
	return c.params
}

func (c *pionConsumer) Paused() bool {
	return c.paused.Load()
}

func (c *pionConsumer) Pause() {
	c.paused.Store(true)
}

func (c *pionConsumer) Resume() {
	c.paused.Store(false)
}

func (c *pionConsumer) Closed() bool {
	return c.closed.Load()
}

func (c *pionConsumer) writeRTP(pkt *rtp.Packet) error {
	return c.track.WriteRTP(pkt)
}

func (c *pionConsumer) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.producer.detach(c.id)
	return c.sender.Stop()
}
