package service

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	serverlogger "github.com/voxcast/voxcast-server/pkg/logger"
	"github.com/voxcast/voxcast-server/pkg/media"
	"github.com/voxcast/voxcast-server/pkg/rtc"
	"github.com/voxcast/voxcast-server/pkg/utils"
)

// RTCService terminates signaling websockets. Each connection gets its own
// session; requests from one connection are handled serially by its read
// loop, different connections run concurrently.
type RTCService struct {
	roomManager *RoomManager
	upgrader    websocket.Upgrader
}

func NewRTCService(roomManager *RoomManager) *RTCService {
	s := &RTCService{
		roomManager: roomManager,
	}

	// allow connections from any origin, since script may be hosted anywhere
	s.upgrader.CheckOrigin = func(r *http.Request) bool {
		return true
	}

	return s
}

func (s *RTCService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		serverlogger.Warnw("could not upgrade to websocket", err)
		return
	}

	sigConn := NewWSSignalConnection(conn)
	session := &signalSession{
		connectionID: utils.NewGuid(utils.ConnectionPrefix),
		manager:      s.roomManager,
		conn:         sigConn,
	}
	serverlogger.Infow("client connected", "connectionId", session.connectionID)

	defer func() {
		session.close()
		_ = sigConn.Close()
		serverlogger.Infow("client disconnected", "connectionId", session.connectionID)
	}()

	for {
		req, err := sigConn.ReadRequest()
		if err != nil {
			if !IsWebSocketCloseError(err) {
				serverlogger.Warnw("error reading from websocket", err,
					"connectionId", session.connectionID)
			}
			return
		}
		if !session.handleRequest(req) {
			return
		}
	}
}

// signalSession is the per-connection protocol state: the connection id and
// the room the connection has joined, if any. Only join, exitRoom and
// disconnect mutate roomID.
type signalSession struct {
	connectionID string
	manager      *RoomManager
	conn         *WSSignalConnection
	roomID       string
}

// Notify implements rtc.Notifier so the session can receive room events.
func (s *signalSession) Notify(method string, payload interface{}) error {
	return s.conn.WriteEvent(method, payload)
}

// handleRequest dispatches one request and reports whether the session loop
// should keep running.
func (s *signalSession) handleRequest(req *SignalRequest) bool {
	switch req.Method {
	case MethodCreateRoom:
		s.handleCreateRoom(req)
	case MethodJoin:
		s.handleJoin(req)
	case MethodGetProducers:
		s.handleGetProducers(req)
	case MethodGetRtpCapabilities:
		s.handleGetRtpCapabilities(req)
	case MethodCreateTransport:
		s.handleCreateTransport(req)
	case MethodConnectTransport:
		s.handleConnectTransport(req)
	case MethodProduce:
		s.handleProduce(req)
	case MethodConsume:
		s.handleConsume(req)
	case MethodResume:
		s.handleResume(req)
	case MethodGetMyRoomInfo:
		s.handleGetMyRoomInfo(req)
	case MethodProducerClosed:
		s.handleProducerClosed(req)
	case MethodExitRoom:
		s.handleExitRoom(req)
	case MethodDisconnect:
		serverlogger.Debugw("client requested disconnect", "connectionId", s.connectionID)
		return false
	default:
		s.writeError(req, "unknown method "+req.Method)
	}
	return true
}

// parse decodes the request payload into out. On failure it answers the
// request with an error and reports false.
func (s *signalSession) parse(req *SignalRequest, out interface{}) bool {
	if len(req.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(req.Data, out); err != nil {
		serverlogger.Warnw("malformed request payload", err,
			"connectionId", s.connectionID, "method", req.Method)
		s.writeError(req, "malformed request payload")
		return false
	}
	return true
}

// room resolves the session's joined room. The stored room id, never a
// client-supplied one, decides which room a request acts on.
func (s *signalSession) room() (*rtc.Room, error) {
	if s.roomID == "" {
		return nil, ErrNotInRoom
	}
	return s.manager.GetRoom(s.roomID)
}

func (s *signalSession) writeData(req *SignalRequest, data interface{}) {
	if err := s.conn.WriteResponse(req.ID, data); err != nil {
		serverlogger.Warnw("error writing to websocket", err, "connectionId", s.connectionID)
	}
}

func (s *signalSession) writeError(req *SignalRequest, message string) {
	if err := s.conn.WriteError(req.ID, message); err != nil {
		serverlogger.Warnw("error writing to websocket", err, "connectionId", s.connectionID)
	}
}

func (s *signalSession) handleCreateRoom(req *SignalRequest) {
	var msg CreateRoomRequest
	if !s.parse(req, &msg) {
		return
	}
	if msg.RoomID == "" {
		s.writeError(req, "room_id is required")
		return
	}
	if _, err := s.manager.CreateRoom(msg.RoomID); err != nil {
		s.writeError(req, err.Error())
		return
	}
	s.writeData(req, msg.RoomID)
}

func (s *signalSession) handleJoin(req *SignalRequest) {
	var msg JoinRequest
	if !s.parse(req, &msg) {
		return
	}
	// an empty id would be indistinguishable from the unjoined state
	if msg.RoomID == "" {
		s.writeError(req, "room_id is required")
		return
	}
	if s.roomID != "" {
		s.writeError(req, ErrAlreadyJoined.Error())
		return
	}
	room, err := s.manager.GetRoom(msg.RoomID)
	if err != nil {
		s.writeError(req, err.Error())
		return
	}
	peer := rtc.NewPeer(s.connectionID, msg.Name, s)
	if err = room.AddPeer(peer); err != nil {
		s.writeError(req, err.Error())
		return
	}
	s.roomID = msg.RoomID
	s.writeData(req, room.Info())
}

func (s *signalSession) handleGetProducers(req *SignalRequest) {
	room, err := s.room()
	if err != nil {
		s.writeError(req, err.Error())
		return
	}
	// existing producers are backfilled through the same event late peers
	// would have missed
	if err = s.conn.WriteEvent(rtc.NewProducersMethod, room.ProducerListForPeer(s.connectionID)); err != nil {
		serverlogger.Warnw("error writing to websocket", err, "connectionId", s.connectionID)
		return
	}
	s.writeData(req, nil)
}

func (s *signalSession) handleGetRtpCapabilities(req *SignalRequest) {
	room, err := s.room()
	if err != nil {
		s.writeError(req, err.Error())
		return
	}
	caps, err := room.RTPCapabilities()
	if err != nil {
		s.writeError(req, err.Error())
		return
	}
	s.writeData(req, caps)
}

func (s *signalSession) handleCreateTransport(req *SignalRequest) {
	room, err := s.room()
	if err != nil {
		s.writeError(req, err.Error())
		return
	}
	info, err := room.CreateTransport(s.connectionID)
	if err != nil {
		s.writeError(req, err.Error())
		return
	}
	s.writeData(req, info)
}

func (s *signalSession) handleConnectTransport(req *SignalRequest) {
	var msg ConnectTransportRequest
	if !s.parse(req, &msg) {
		return
	}
	room, err := s.room()
	if err != nil {
		s.writeError(req, err.Error())
		return
	}
	err = room.ConnectTransport(s.connectionID, msg.TransportID, media.ConnectParams{
		DTLSParameters: msg.DTLSParameters,
		ICEParameters:  msg.ICEParameters,
		ICECandidates:  msg.ICECandidates,
	})
	if err != nil {
		s.writeError(req, err.Error())
		return
	}
	s.writeData(req, responseSuccess)
}

func (s *signalSession) handleProduce(req *SignalRequest) {
	var msg ProduceRequest
	if !s.parse(req, &msg) {
		return
	}
	room, err := s.room()
	if err != nil {
		s.writeError(req, err.Error())
		return
	}
	producerID, err := room.Produce(s.connectionID, msg.ProducerTransportID, media.Kind(msg.Kind), msg.RTPParameters)
	if err != nil {
		s.writeError(req, err.Error())
		return
	}
	s.writeData(req, ProduceResponse{ProducerID: producerID})
}

func (s *signalSession) handleConsume(req *SignalRequest) {
	var msg ConsumeRequest
	if !s.parse(req, &msg) {
		return
	}
	room, err := s.room()
	if err != nil {
		s.writeError(req, err.Error())
		return
	}
	info, err := room.Consume(s.connectionID, msg.ConsumerTransportID, msg.ProducerID, msg.RTPCapabilities)
	if err != nil {
		s.writeError(req, err.Error())
		return
	}
	s.writeData(req, info)
}

func (s *signalSession) handleResume(req *SignalRequest) {
	var msg ResumeRequest
	if !s.parse(req, &msg) {
		return
	}
	if msg.ConsumerID == "" {
		s.writeError(req, "consumer_id is required")
		return
	}
	room, err := s.room()
	if err != nil {
		s.writeError(req, err.Error())
		return
	}
	if err = room.ResumeConsumer(s.connectionID, msg.ConsumerID); err != nil {
		s.writeError(req, err.Error())
		return
	}
	s.writeData(req, nil)
}

func (s *signalSession) handleGetMyRoomInfo(req *SignalRequest) {
	room, err := s.room()
	if err != nil {
		s.writeError(req, err.Error())
		return
	}
	s.writeData(req, room.Info())
}

func (s *signalSession) handleProducerClosed(req *SignalRequest) {
	// no response channel for this request; failures are logged only
	var msg ProducerClosedRequest
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &msg); err != nil {
			serverlogger.Warnw("malformed request payload", err,
				"connectionId", s.connectionID, "method", req.Method)
			return
		}
	}
	room, err := s.room()
	if err != nil {
		serverlogger.Debugw("producerClosed outside a room", "connectionId", s.connectionID)
		return
	}
	room.CloseProducer(s.connectionID, msg.ProducerID)
}

func (s *signalSession) handleExitRoom(req *SignalRequest) {
	if s.roomID == "" {
		s.writeError(req, ErrNotInRoom.Error())
		return
	}
	s.leaveRoom()
	s.writeData(req, responseExitedRoom)
}

// close unwinds the session when its connection goes away, releasing the
// peer's media objects promptly rather than letting them expire.
func (s *signalSession) close() {
	if s.roomID == "" {
		return
	}
	s.leaveRoom()
}

func (s *signalSession) leaveRoom() {
	roomID := s.roomID
	s.roomID = ""
	room, err := s.manager.GetRoom(roomID)
	if err != nil {
		return
	}
	room.RemovePeer(s.connectionID)
	s.manager.DeleteRoomIfEmpty(roomID)
}
