package media

import (
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/voxcast/voxcast-server/pkg/utils"
)

// pionEngine is the in-process engine binding built on pion's ORTC API.
// Each worker gets its own SettingEngine so routers created on it share a
// UDP port slice and logger, the way the external engine pins a worker to a
// port range.
type pionEngine struct{}

func NewEngine() Engine {
	return &pionEngine{}
}

func (e *pionEngine) NewWorker(opts WorkerOptions) (Worker, error) {
	se := webrtc.SettingEngine{
		LoggerFactory: opts.LoggerFactory,
	}
	if opts.PortRangeStart > 0 && opts.PortRangeEnd >= opts.PortRangeStart {
		if err := se.SetEphemeralUDPPortRange(opts.PortRangeStart, opts.PortRangeEnd); err != nil {
			return nil, err
		}
	}
	se.SetLite(true)

	var iceServers []webrtc.ICEServer
	if len(opts.STUNServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: opts.STUNServers}}
	}

	return &pionWorker{
		id:         utils.NewGuid(utils.WorkerPrefix),
		se:         se,
		iceServers: iceServers,
	}, nil
}

type pionWorker struct {
	id         string
	se         webrtc.SettingEngine
	iceServers []webrtc.ICEServer

	mu     sync.Mutex
	onDied func(error)
	closed bool
}

func (w *pionWorker) ID() string {
	return w.id
}

func (w *pionWorker) OnDied(f func(err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDied = f
}

// fail reports an unrecoverable fault. Fired at most once.
func (w *pionWorker) fail(err error) {
	w.mu.Lock()
	f := w.onDied
	w.onDied = nil
	w.mu.Unlock()
	if f != nil {
		f(err)
	}
}

func (w *pionWorker) NewRouter(codecs []webrtc.RTPCodecCapability) (Router, error) {
	return &pionRouter{
		id:        utils.NewGuid(utils.RouterPrefix),
		worker:    w,
		codecs:    codecs,
		producers: make(map[string]*pionProducer),
	}, nil
}

func (w *pionWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

type pionRouter struct {
	id     string
	worker *pionWorker
	codecs []webrtc.RTPCodecCapability

	mu        sync.RWMutex
	producers map[string]*pionProducer
	closed    bool
}

func (r *pionRouter) ID() string {
	return r.id
}

func (r *pionRouter) RTPCapabilities() webrtc.RTPCapabilities {
	return webrtc.RTPCapabilities{Codecs: r.codecs}
}

func (r *pionRouter) HasProducer(producerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.producers[producerID]
	return ok
}

func (r *pionRouter) CanConsume(producerID string, caps webrtc.RTPCapabilities) bool {
	r.mu.RLock()
	p, ok := r.producers[producerID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return CodecCanBeConsumed(p.codec.RTPCodecCapability, caps)
}

func (r *pionRouter) registerProducer(p *pionProducer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *pionRouter) unregisterProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *pionRouter) producer(id string) (*pionProducer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *pionRouter) Close() error {
	r.mu.Lock()
	producers := make([]*pionProducer, 0, len(r.producers))
	for _, p := range r.producers {
		producers = append(producers, p)
	}
	r.producers = make(map[string]*pionProducer)
	r.closed = true
	r.mu.Unlock()

	for _, p := range producers {
		_ = p.Close()
	}
	return nil
}

// default payload types registered on a transport's media engine, matching
// what browsers offer for these codecs
func payloadTypeForCodec(codec webrtc.RTPCodecCapability) webrtc.PayloadType {
	switch KindFromMimeType(codec.MimeType) {
	case KindAudio:
		return 111
	default:
		return 96
	}
}
