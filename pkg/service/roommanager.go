package service

import (
	"sync"

	"github.com/pion/webrtc/v3"

	serverlogger "github.com/voxcast/voxcast-server/pkg/logger"
	"github.com/voxcast/voxcast-server/pkg/media"
	"github.com/voxcast/voxcast-server/pkg/rtc"
)

// RoomManager is the single writer of the id→Room mapping. Rooms are created
// explicitly, assigned a worker round-robin, and dropped once their last
// peer leaves.
type RoomManager struct {
	lock   sync.RWMutex
	pool   *media.Pool
	codecs []webrtc.RTPCodecCapability
	rooms  map[string]*rtc.Room
}

func NewRoomManager(pool *media.Pool, codecs []webrtc.RTPCodecCapability) *RoomManager {
	return &RoomManager{
		pool:   pool,
		codecs: codecs,
		rooms:  make(map[string]*rtc.Room),
	}
}

func (m *RoomManager) CreateRoom(roomID string) (*rtc.Room, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.rooms[roomID]; ok {
		return nil, ErrRoomAlreadyExists
	}

	worker := m.pool.Next()
	room, err := rtc.NewRoom(roomID, worker, m.codecs)
	if err != nil {
		return nil, err
	}
	m.rooms[roomID] = room
	serverlogger.Infow("room created", "room", roomID, "worker", worker.ID())
	return room, nil
}

func (m *RoomManager) GetRoom(roomID string) (*rtc.Room, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// DeleteRoomIfEmpty drops and closes the room once its peer set is empty.
// Callers invoke it after every peer removal.
func (m *RoomManager) DeleteRoomIfEmpty(roomID string) {
	m.lock.Lock()
	room, ok := m.rooms[roomID]
	if !ok || !room.IsEmpty() {
		m.lock.Unlock()
		return
	}
	delete(m.rooms, roomID)
	m.lock.Unlock()

	room.Close()
	serverlogger.Infow("room deleted", "room", roomID)
}

func (m *RoomManager) NumRooms() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.rooms)
}

// Stop closes every room. The media pool is owned by the server, not here.
func (m *RoomManager) Stop() {
	m.lock.Lock()
	rooms := m.rooms
	m.rooms = make(map[string]*rtc.Room)
	m.lock.Unlock()

	for _, room := range rooms {
		room.Close()
	}
}
