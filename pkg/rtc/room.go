package rtc

import (
	"sync"

	"github.com/gammazero/workerpool"
	"github.com/pion/webrtc/v3"

	serverlogger "github.com/voxcast/voxcast-server/pkg/logger"
	"github.com/voxcast/voxcast-server/pkg/media"
)

// NewProducersMethod is the unsolicited event announcing producers to the
// other members of a room, and backfilling a late joiner on request.
const NewProducersMethod = "newProducers"

// Room owns one conference: the router context on its assigned worker, the
// member peers keyed by connection id, and the producer→consumer fan-out
// between them. A room keeps exactly one router for its whole lifetime.
type Room struct {
	id     string
	worker media.Worker
	router media.Router

	lock   sync.RWMutex
	peers  map[string]*Peer
	closed bool

	// single-worker queue so event fan-out keeps per-room order and never
	// blocks a request handler
	dispatch *workerpool.WorkerPool
}

type RoomInfo struct {
	ID    string     `json:"id"`
	Peers []PeerInfo `json:"peers"`
}

// ProducerInfo is one entry of a newProducers event.
type ProducerInfo struct {
	ProducerID string `json:"producer_id"`
	PeerID     string `json:"peer_id"`
	Kind       string `json:"kind,omitempty"`
}

func NewRoom(id string, worker media.Worker, codecs []webrtc.RTPCodecCapability) (*Room, error) {
	router, err := worker.NewRouter(codecs)
	if err != nil {
		return nil, err
	}
	return &Room{
		id:       id,
		worker:   worker,
		router:   router,
		peers:    make(map[string]*Peer),
		dispatch: workerpool.New(1),
	}, nil
}

func (r *Room) ID() string {
	return r.id
}

func (r *Room) AddPeer(peer *Peer) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.closed {
		return ErrRoomClosed
	}
	r.peers[peer.ID()] = peer
	serverlogger.Infow("peer joined room", "room", r.id, "peer", peer.ID(), "name", peer.Name())
	return nil
}

func (r *Room) GetPeer(connectionID string) (*Peer, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	peer, ok := r.peers[connectionID]
	if !ok {
		return nil, ErrPeerNotFound
	}
	return peer, nil
}

func (r *Room) Peers() []*Peer {
	r.lock.RLock()
	defer r.lock.RUnlock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, peer := range r.peers {
		peers = append(peers, peer)
	}
	return peers
}

func (r *Room) IsEmpty() bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.peers) == 0
}

func (r *Room) Info() RoomInfo {
	r.lock.RLock()
	defer r.lock.RUnlock()
	info := RoomInfo{ID: r.id, Peers: make([]PeerInfo, 0, len(r.peers))}
	for _, peer := range r.peers {
		info.Peers = append(info.Peers, peer.Info())
	}
	return info
}

func (r *Room) RTPCapabilities() (webrtc.RTPCapabilities, error) {
	if r.router == nil {
		return webrtc.RTPCapabilities{}, ErrNoRouter
	}
	return r.router.RTPCapabilities(), nil
}

// CreateTransport allocates a transport for the named peer and returns the
// connection material to relay to the browser.
func (r *Room) CreateTransport(peerID string) (media.TransportInfo, error) {
	peer, err := r.GetPeer(peerID)
	if err != nil {
		return media.TransportInfo{}, err
	}
	transport, err := r.router.NewTransport()
	if err != nil {
		return media.TransportInfo{}, err
	}
	peer.AddTransport(transport)
	serverlogger.Debugw("transport created", "room", r.id, "peer", peerID, "transport", transport.ID())
	return transport.Info(), nil
}

func (r *Room) ConnectTransport(peerID, transportID string, params media.ConnectParams) error {
	peer, err := r.GetPeer(peerID)
	if err != nil {
		return err
	}
	transport, ok := peer.GetTransport(transportID)
	if !ok {
		return ErrTransportNotFound
	}
	return transport.Connect(params)
}

// Produce creates a producer on the peer's transport and announces it to
// every other member of the room.
func (r *Room) Produce(peerID, transportID string, kind media.Kind, params media.RTPParameters) (string, error) {
	peer, err := r.GetPeer(peerID)
	if err != nil {
		return "", err
	}
	transport, ok := peer.GetTransport(transportID)
	if !ok {
		return "", ErrTransportNotFound
	}
	producer, err := transport.Produce(kind, params)
	if err != nil {
		return "", err
	}
	peer.AddProducer(producer)

	serverlogger.Infow("new producer",
		"room", r.id,
		"peer", peerID,
		"producer", producer.ID(),
		"kind", kind,
	)
	r.notifyOthers(peerID, NewProducersMethod, []ProducerInfo{
		{ProducerID: producer.ID(), PeerID: peerID, Kind: string(kind)},
	})
	return producer.ID(), nil
}

// Consume delivers the named producer to the requesting peer over its
// receive transport. The consumer starts paused until the client resumes it.
func (r *Room) Consume(peerID, transportID, producerID string, caps webrtc.RTPCapabilities) (*ConsumerInfo, error) {
	peer, err := r.GetPeer(peerID)
	if err != nil {
		return nil, err
	}
	transport, ok := peer.GetTransport(transportID)
	if !ok {
		return nil, ErrTransportNotFound
	}
	if !r.router.HasProducer(producerID) {
		return nil, ErrProducerNotFound
	}
	consumer, err := transport.Consume(producerID, caps)
	if err != nil {
		return nil, err
	}
	peer.SetRTPCapabilities(caps)
	peer.AddConsumer(consumer)

	serverlogger.Debugw("consumer created",
		"room", r.id,
		"peer", peerID,
		"consumer", consumer.ID(),
		"producer", producerID,
	)
	return &ConsumerInfo{
		ID:            consumer.ID(),
		ProducerID:    consumer.ProducerID(),
		Kind:          consumer.Kind(),
		RTPParameters: consumer.RTPParameters(),
	}, nil
}

type ConsumerInfo struct {
	ID            string              `json:"id"`
	ProducerID    string              `json:"producer_id"`
	Kind          media.Kind          `json:"kind"`
	RTPParameters media.RTPParameters `json:"rtpParameters"`
}

func (r *Room) ResumeConsumer(peerID, consumerID string) error {
	peer, err := r.GetPeer(peerID)
	if err != nil {
		return err
	}
	consumer, ok := peer.GetConsumer(consumerID)
	if !ok {
		return ErrConsumerNotFound
	}
	consumer.Resume()
	return nil
}

// CloseProducer closes the producer and every consumer referencing it across
// the room. A no-op for producers that are unknown or already closed.
func (r *Room) CloseProducer(peerID, producerID string) {
	peer, err := r.GetPeer(peerID)
	if err != nil {
		return
	}
	producer, ok := peer.GetProducer(producerID)
	if !ok {
		return
	}
	_ = producer.Close()
	peer.RemoveProducer(producerID)

	for _, other := range r.Peers() {
		for _, consumer := range other.ConsumersOfProducer(producerID) {
			_ = consumer.Close()
			other.RemoveConsumer(consumer.ID())
		}
	}
	serverlogger.Infow("producer closed", "room", r.id, "peer", peerID, "producer", producerID)
}

// ProducerListForPeer returns every open producer belonging to other
// members, used to backfill streams that predate the peer's join.
func (r *Room) ProducerListForPeer(peerID string) []ProducerInfo {
	producers := make([]ProducerInfo, 0)
	for _, peer := range r.Peers() {
		if peer.ID() == peerID {
			continue
		}
		for _, producer := range peer.Producers() {
			if producer.Closed() {
				continue
			}
			producers = append(producers, ProducerInfo{
				ProducerID: producer.ID(),
				PeerID:     peer.ID(),
				Kind:       string(producer.Kind()),
			})
		}
	}
	return producers
}

// RemovePeer tears down everything the peer owns and drops it from the
// member set. Idempotent.
func (r *Room) RemovePeer(peerID string) {
	r.lock.Lock()
	peer, ok := r.peers[peerID]
	if ok {
		delete(r.peers, peerID)
	}
	r.lock.Unlock()
	if !ok {
		return
	}

	peer.Close()

	// consumer records held by other peers for this peer's producers are
	// already closed at the engine level; drop the bookkeeping too
	for _, other := range r.Peers() {
		for _, consumer := range other.Consumers() {
			if consumer.Closed() {
				other.RemoveConsumer(consumer.ID())
			}
		}
	}
	serverlogger.Infow("peer left room", "room", r.id, "peer", peerID)
}

// notifyOthers fans an event out to every member except the origin. Holding
// the read lock while submitting keeps the dispatch queue alive relative to
// Close.
func (r *Room) notifyOthers(exceptPeerID, method string, payload interface{}) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if r.closed {
		return
	}
	targets := make([]*Peer, 0, len(r.peers))
	for _, peer := range r.peers {
		if peer.ID() == exceptPeerID {
			continue
		}
		targets = append(targets, peer)
	}
	r.dispatch.Submit(func() {
		for _, peer := range targets {
			if err := peer.Notify(method, payload); err != nil {
				serverlogger.Warnw("could not notify peer", err, "room", r.id, "peer", peer.ID())
			}
		}
	})
}

func (r *Room) Close() {
	r.lock.Lock()
	if r.closed {
		r.lock.Unlock()
		return
	}
	r.closed = true
	peers := r.peers
	r.peers = make(map[string]*Peer)
	r.lock.Unlock()

	for _, peer := range peers {
		peer.Close()
	}
	r.dispatch.StopWait()
	_ = r.router.Close()
	serverlogger.Infow("room closed", "room", r.id)
}
