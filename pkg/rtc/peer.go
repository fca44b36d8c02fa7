package rtc

import (
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/voxcast/voxcast-server/pkg/media"
)

// Notifier delivers unsolicited server→client events for one connection.
// The signaling layer supplies it when the peer joins.
type Notifier interface {
	Notify(method string, payload interface{}) error
}

// Peer is the per-connection session state inside a room: the transports it
// owns, the streams it produces, and the deliveries it consumes. It performs
// no signaling itself.
type Peer struct {
	id       string
	name     string
	notifier Notifier

	lock            sync.RWMutex
	rtpCapabilities *webrtc.RTPCapabilities
	transports      map[string]media.Transport
	producers       map[string]media.Producer
	consumers       map[string]media.Consumer
}

type PeerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func NewPeer(connectionID, name string, notifier Notifier) *Peer {
	return &Peer{
		id:         connectionID,
		name:       name,
		notifier:   notifier,
		transports: make(map[string]media.Transport),
		producers:  make(map[string]media.Producer),
		consumers:  make(map[string]media.Consumer),
	}
}

func (p *Peer) ID() string {
	return p.id
}

func (p *Peer) Name() string {
	return p.name
}

func (p *Peer) Info() PeerInfo {
	return PeerInfo{ID: p.id, Name: p.name}
}

func (p *Peer) Notify(method string, payload interface{}) error {
	if p.notifier == nil {
		return nil
	}
	return p.notifier.Notify(method, payload)
}

func (p *Peer) SetRTPCapabilities(caps webrtc.RTPCapabilities) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.rtpCapabilities = &caps
}

func (p *Peer) RTPCapabilities() *webrtc.RTPCapabilities {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.rtpCapabilities
}

func (p *Peer) AddTransport(t media.Transport) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.transports[t.ID()] = t
}

func (p *Peer) GetTransport(id string) (media.Transport, bool) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	t, ok := p.transports[id]
	return t, ok
}

func (p *Peer) AddProducer(producer media.Producer) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.producers[producer.ID()] = producer
}

func (p *Peer) GetProducer(id string) (media.Producer, bool) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	producer, ok := p.producers[id]
	return producer, ok
}

func (p *Peer) RemoveProducer(id string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	delete(p.producers, id)
}

func (p *Peer) Producers() []media.Producer {
	p.lock.RLock()
	defer p.lock.RUnlock()
	producers := make([]media.Producer, 0, len(p.producers))
	for _, producer := range p.producers {
		producers = append(producers, producer)
	}
	return producers
}

func (p *Peer) AddConsumer(consumer media.Consumer) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.consumers[consumer.ID()] = consumer
}

func (p *Peer) GetConsumer(id string) (media.Consumer, bool) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	consumer, ok := p.consumers[id]
	return consumer, ok
}

func (p *Peer) RemoveConsumer(id string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	delete(p.consumers, id)
}

func (p *Peer) Consumers() []media.Consumer {
	p.lock.RLock()
	defer p.lock.RUnlock()
	consumers := make([]media.Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	return consumers
}

// ConsumersOfProducer returns this peer's deliveries fed by the given
// producer, used when the producer goes away.
func (p *Peer) ConsumersOfProducer(producerID string) []media.Consumer {
	p.lock.RLock()
	defer p.lock.RUnlock()
	var consumers []media.Consumer
	for _, c := range p.consumers {
		if c.ProducerID() == producerID {
			consumers = append(consumers, c)
		}
	}
	return consumers
}

// Close tears down everything the peer owns: consumers first, then
// producers, then transports.
func (p *Peer) Close() {
	p.lock.Lock()
	consumers := p.consumers
	producers := p.producers
	transports := p.transports
	p.consumers = make(map[string]media.Consumer)
	p.producers = make(map[string]media.Producer)
	p.transports = make(map[string]media.Transport)
	p.lock.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}
	for _, producer := range producers {
		_ = producer.Close()
	}
	for _, t := range transports {
		_ = t.Close()
	}
}
