// Package mediatest provides an in-memory media.Engine for tests: no
// sockets, no DTLS, just the object graph and lifecycle rules the signaling
// layer depends on.
package mediatest

import (
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/voxcast/voxcast-server/pkg/media"
	"github.com/voxcast/voxcast-server/pkg/utils"
)

type FakeEngine struct {
	mu      sync.Mutex
	Workers []*FakeWorker
}

func NewFakeEngine() *FakeEngine {
	return &FakeEngine{}
}

func (e *FakeEngine) NewWorker(opts media.WorkerOptions) (media.Worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w := &FakeWorker{id: utils.NewGuid(utils.WorkerPrefix)}
	e.Workers = append(e.Workers, w)
	return w, nil
}

type FakeWorker struct {
	id string

	mu     sync.Mutex
	onDied func(error)
}

func (w *FakeWorker) ID() string {
	return w.id
}

func (w *FakeWorker) OnDied(f func(err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDied = f
}

// Die simulates a fatal worker fault.
func (w *FakeWorker) Die(err error) {
	w.mu.Lock()
	f := w.onDied
	w.mu.Unlock()
	if f != nil {
		f(err)
	}
}

func (w *FakeWorker) NewRouter(codecs []webrtc.RTPCodecCapability) (media.Router, error) {
	return &FakeRouter{
		id:        utils.NewGuid(utils.RouterPrefix),
		worker:    w,
		codecs:    codecs,
		producers: make(map[string]*FakeProducer),
	}, nil
}

func (w *FakeWorker) Close() error {
	return nil
}

type FakeRouter struct {
	id     string
	worker *FakeWorker
	codecs []webrtc.RTPCodecCapability

	mu        sync.RWMutex
	producers map[string]*FakeProducer
	Closed    bool
}

func (r *FakeRouter) ID() string {
	return r.id
}

func (r *FakeRouter) RTPCapabilities() webrtc.RTPCapabilities {
	return webrtc.RTPCapabilities{Codecs: r.codecs}
}

func (r *FakeRouter) NewTransport() (media.Transport, error) {
	t := &FakeTransport{
		id:     utils.NewGuid(utils.TransportPrefix),
		router: r,
	}
	t.info = media.TransportInfo{
		ID: t.id,
		ICEParameters: webrtc.ICEParameters{
			UsernameFragment: "fake-ufrag",
			Password:         "fake-pwd",
		},
		DTLSParameters: webrtc.DTLSParameters{
			Role: webrtc.DTLSRoleAuto,
			Fingerprints: []webrtc.DTLSFingerprint{
				{Algorithm: "sha-256", Value: "00:11:22"},
			},
		},
	}
	return t, nil
}

func (r *FakeRouter) HasProducer(producerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.producers[producerID]
	return ok
}

func (r *FakeRouter) CanConsume(producerID string, caps webrtc.RTPCapabilities) bool {
	r.mu.RLock()
	p, ok := r.producers[producerID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return media.CodecCanBeConsumed(p.codec, caps)
}

func (r *FakeRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Closed = true
	r.producers = make(map[string]*FakeProducer)
	return nil
}

type FakeTransport struct {
	id     string
	router *FakeRouter
	info   media.TransportInfo

	mu        sync.Mutex
	Connected bool
	IsClosed  bool
	producers []*FakeProducer
	consumers []*FakeConsumer
}

func (t *FakeTransport) ID() string {
	return t.id
}

func (t *FakeTransport) Info() media.TransportInfo {
	return t.info
}

func (t *FakeTransport) Connect(params media.ConnectParams) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.IsClosed {
		return media.ErrTransportClosed
	}
	t.Connected = true
	return nil
}

func (t *FakeTransport) Produce(kind media.Kind, params media.RTPParameters) (media.Producer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.IsClosed {
		return nil, media.ErrTransportClosed
	}
	if !t.Connected {
		return nil, media.ErrTransportNotConnected
	}

	var codec webrtc.RTPCodecCapability
	if len(params.Codecs) > 0 {
		codec = params.Codecs[0].RTPCodecCapability
	}
	p := &FakeProducer{
		id:        utils.NewGuid(utils.ProducerPrefix),
		kind:      kind,
		codec:     codec,
		router:    t.router,
		consumers: make(map[string]*FakeConsumer),
	}
	t.producers = append(t.producers, p)
	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()
	return p, nil
}

func (t *FakeTransport) Consume(producerID string, caps webrtc.RTPCapabilities) (media.Consumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.IsClosed {
		return nil, media.ErrTransportClosed
	}

	t.router.mu.RLock()
	prod, ok := t.router.producers[producerID]
	t.router.mu.RUnlock()
	if !ok {
		return nil, media.ErrProducerNotFound
	}
	if !media.CodecCanBeConsumed(prod.codec, caps) {
		return nil, media.ErrCannotConsume
	}

	c := &FakeConsumer{
		id:         utils.NewGuid(utils.ConsumerPrefix),
		producerID: prod.id,
		kind:       prod.kind,
		producer:   prod,
		paused:     true,
	}
	c.params = media.RTPParameters{
		Codecs: []webrtc.RTPCodecParameters{{RTPCodecCapability: prod.codec, PayloadType: 96}},
		Encodings: []webrtc.RTPCodingParameters{
			{SSRC: webrtc.SSRC(len(prod.consumers) + 1), PayloadType: 96},
		},
	}
	t.consumers = append(t.consumers, c)
	prod.mu.Lock()
	prod.consumers[c.id] = c
	prod.mu.Unlock()
	return c, nil
}

func (t *FakeTransport) Close() error {
	t.mu.Lock()
	if t.IsClosed {
		t.mu.Unlock()
		return nil
	}
	t.IsClosed = true
	producers := t.producers
	consumers := t.consumers
	t.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}
	for _, p := range producers {
		_ = p.Close()
	}
	return nil
}

type FakeProducer struct {
	id     string
	kind   media.Kind
	codec  webrtc.RTPCodecCapability
	router *FakeRouter

	mu        sync.Mutex
	consumers map[string]*FakeConsumer
	closed    bool
}

func (p *FakeProducer) ID() string {
	return p.id
}

func (p *FakeProducer) Kind() media.Kind {
	return p.kind
}

func (p *FakeProducer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *FakeProducer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	consumers := make([]*FakeConsumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.consumers = make(map[string]*FakeConsumer)
	p.mu.Unlock()

	p.router.mu.Lock()
	delete(p.router.producers, p.id)
	p.router.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}
	return nil
}

type FakeConsumer struct {
	id         string
	producerID string
	kind       media.Kind
	params     media.RTPParameters
	producer   *FakeProducer

	mu       sync.Mutex
	paused   bool
	IsClosed bool
}

func (c *FakeConsumer) ID() string {
	return c.id
}

func (c *FakeConsumer) ProducerID() string {
	return c.producerID
}

func (c *FakeConsumer) Kind() media.Kind {
	return c.kind
}

func (c *FakeConsumer) RTPParameters() media.RTPParameters {
	return c.params
}

func (c *FakeConsumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *FakeConsumer) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

func (c *FakeConsumer) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

func (c *FakeConsumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.IsClosed
}

func (c *FakeConsumer) Close() error {
	c.mu.Lock()
	if c.IsClosed {
		c.mu.Unlock()
		return nil
	}
	c.IsClosed = true
	c.mu.Unlock()

	c.producer.mu.Lock()
	delete(c.producer.consumers, c.id)
	c.producer.mu.Unlock()
	return nil
}
