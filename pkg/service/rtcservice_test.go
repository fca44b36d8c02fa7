package service

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"

	"github.com/voxcast/voxcast-server/pkg/media"
	"github.com/voxcast/voxcast-server/pkg/media/mediatest"
	"github.com/voxcast/voxcast-server/pkg/rtc"
)

const replyWait = 2 * time.Second

// frame is either a response (no method) or an event (no id) off the wire.
type frame struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

func (f frame) decode(t *testing.T, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(f.Data, out))
}

type testClient struct {
	t      *testing.T
	conn   *websocket.Conn
	nextID uint64

	responses chan frame
	events    chan frame
}

func dialClient(t *testing.T, serverURL string) *testClient {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	c := &testClient{
		t:         t,
		conn:      conn,
		responses: make(chan frame, 16),
		events:    make(chan frame, 16),
	}
	t.Cleanup(func() { _ = conn.Close() })
	go c.readPump()
	return c
}

func (c *testClient) readPump() {
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			close(c.responses)
			close(c.events)
			return
		}
		var f frame
		if err = json.Unmarshal(payload, &f); err != nil {
			continue
		}
		if f.Method != "" {
			c.events <- f
		} else {
			c.responses <- f
		}
	}
}

// call sends one request and waits for its response. Requests are serial per
// connection, so responses arrive in order.
func (c *testClient) call(method string, data interface{}) frame {
	c.t.Helper()
	c.nextID++
	req := SignalRequest{ID: c.nextID, Method: method}
	if data != nil {
		payload, err := json.Marshal(data)
		require.NoError(c.t, err)
		req.Data = payload
	}
	require.NoError(c.t, c.conn.WriteJSON(&req))

	select {
	case f, ok := <-c.responses:
		require.True(c.t, ok, "connection closed while awaiting response")
		require.Equal(c.t, c.nextID, f.ID)
		return f
	case <-time.After(replyWait):
		c.t.Fatalf("timed out awaiting response to %s", method)
		return frame{}
	}
}

func (c *testClient) expectEvent(method string) frame {
	c.t.Helper()
	select {
	case f, ok := <-c.events:
		require.True(c.t, ok, "connection closed while awaiting event")
		require.Equal(c.t, method, f.Method)
		return f
	case <-time.After(replyWait):
		c.t.Fatalf("timed out awaiting %s event", method)
		return frame{}
	}
}

func (c *testClient) expectNoEvent() {
	c.t.Helper()
	select {
	case f := <-c.events:
		c.t.Fatalf("unexpected %s event", f.Method)
	case <-time.After(100 * time.Millisecond):
	}
}

func newSignalTestServer(t *testing.T) (*httptest.Server, *RoomManager) {
	t.Helper()
	pool, err := media.NewPool(mediatest.NewFakeEngine(), 1, time.Second, media.WorkerOptions{})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	rm := NewRoomManager(pool, []webrtc.RTPCodecCapability{
		{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
	})
	ts := httptest.NewServer(NewRTCService(rm))
	t.Cleanup(ts.Close)
	return ts, rm
}

func videoParameters() media.RTPParameters {
	return media.RTPParameters{
		Codecs: []webrtc.RTPCodecParameters{
			{
				RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
				PayloadType:        96,
			},
		},
		Encodings: []webrtc.RTPCodingParameters{{SSRC: 1234, PayloadType: 96}},
	}
}

func receiveCapabilities() webrtc.RTPCapabilities {
	return webrtc.RTPCapabilities{
		Codecs: []webrtc.RTPCodecCapability{
			{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		},
	}
}

// setupTransport creates and connects a transport, returning its id.
func setupTransport(t *testing.T, c *testClient) string {
	t.Helper()
	resp := c.call(MethodCreateTransport, nil)
	require.Empty(t, resp.Error)
	var info media.TransportInfo
	resp.decode(t, &info)
	require.NotEmpty(t, info.ID)

	resp = c.call(MethodConnectTransport, ConnectTransportRequest{TransportID: info.ID})
	require.Empty(t, resp.Error)
	var ack string
	resp.decode(t, &ack)
	require.Equal(t, "success", ack)
	return info.ID
}

func TestSignalSessionScenario(t *testing.T) {
	ts, rm := newSignalTestServer(t)

	alice := dialClient(t, ts.URL)
	bob := dialClient(t, ts.URL)

	// room creation, once
	resp := alice.call(MethodCreateRoom, CreateRoomRequest{RoomID: "r1"})
	require.Empty(t, resp.Error)
	var roomID string
	resp.decode(t, &roomID)
	require.Equal(t, "r1", roomID)

	resp = alice.call(MethodCreateRoom, CreateRoomRequest{RoomID: "r1"})
	require.Equal(t, "already exists", resp.Error)

	// joining a room that does not exist never creates one
	resp = bob.call(MethodJoin, JoinRequest{RoomID: "nope", Name: "Bob"})
	require.Equal(t, "Room does not exist", resp.Error)
	require.Equal(t, 1, rm.NumRooms())

	resp = alice.call(MethodJoin, JoinRequest{RoomID: "r1", Name: "Alice"})
	require.Empty(t, resp.Error)
	var info rtc.RoomInfo
	resp.decode(t, &info)
	require.Equal(t, "r1", info.ID)
	require.Len(t, info.Peers, 1)

	resp = alice.call(MethodJoin, JoinRequest{RoomID: "r1", Name: "Alice"})
	require.Equal(t, "already joined", resp.Error)

	resp = bob.call(MethodJoin, JoinRequest{RoomID: "r1", Name: "Bob"})
	require.Empty(t, resp.Error)
	resp.decode(t, &info)
	require.Len(t, info.Peers, 2)

	// capability exchange
	resp = alice.call(MethodGetRtpCapabilities, nil)
	require.Empty(t, resp.Error)
	var caps webrtc.RTPCapabilities
	resp.decode(t, &caps)
	require.Len(t, caps.Codecs, 2)

	// alice produces video
	aliceTransport := setupTransport(t, alice)
	resp = alice.call(MethodProduce, ProduceRequest{
		Kind:                "video",
		RTPParameters:       videoParameters(),
		ProducerTransportID: aliceTransport,
	})
	require.Empty(t, resp.Error)
	var produced ProduceResponse
	resp.decode(t, &produced)
	require.NotEmpty(t, produced.ProducerID)

	// bob, and only bob, is told about it
	event := bob.expectEvent(rtc.NewProducersMethod)
	var announced []rtc.ProducerInfo
	event.decode(t, &announced)
	require.Len(t, announced, 1)
	require.Equal(t, produced.ProducerID, announced[0].ProducerID)
	alice.expectNoEvent()

	// explicit backfill returns the same list as an event
	resp = bob.call(MethodGetProducers, nil)
	require.Empty(t, resp.Error)
	event = bob.expectEvent(rtc.NewProducersMethod)
	event.decode(t, &announced)
	require.Len(t, announced, 1)

	// bob consumes; the consumer starts paused and must be resumed by id
	bobTransport := setupTransport(t, bob)
	resp = bob.call(MethodConsume, ConsumeRequest{
		ConsumerTransportID: bobTransport,
		ProducerID:          produced.ProducerID,
		RTPCapabilities:     receiveCapabilities(),
	})
	require.Empty(t, resp.Error)
	var consumer rtc.ConsumerInfo
	resp.decode(t, &consumer)
	require.Equal(t, produced.ProducerID, consumer.ProducerID)
	require.Equal(t, media.KindVideo, consumer.Kind)

	resp = bob.call(MethodResume, ResumeRequest{})
	require.Equal(t, "consumer_id is required", resp.Error)

	resp = bob.call(MethodResume, ResumeRequest{ConsumerID: consumer.ID})
	require.Empty(t, resp.Error)

	resp = bob.call(MethodGetMyRoomInfo, nil)
	require.Empty(t, resp.Error)
	resp.decode(t, &info)
	require.Len(t, info.Peers, 2)

	// alice leaves; her producer becomes unusable for bob
	resp = alice.call(MethodExitRoom, nil)
	require.Empty(t, resp.Error)
	var exited string
	resp.decode(t, &exited)
	require.Equal(t, "successfully exited room", exited)

	resp = alice.call(MethodExitRoom, nil)
	require.Equal(t, "not currently in a room", resp.Error)

	resp = bob.call(MethodConsume, ConsumeRequest{
		ConsumerTransportID: bobTransport,
		ProducerID:          produced.ProducerID,
		RTPCapabilities:     receiveCapabilities(),
	})
	require.Equal(t, rtc.ErrProducerNotFound.Error(), resp.Error)

	// bob disconnecting empties the room, which is then dropped
	require.NoError(t, bob.conn.Close())
	require.Eventually(t, func() bool {
		return rm.NumRooms() == 0
	}, replyWait, 10*time.Millisecond)

	resp = alice.call(MethodCreateRoom, CreateRoomRequest{RoomID: "r1"})
	require.Empty(t, resp.Error)
}

func TestProduceDoesNotCrossRooms(t *testing.T) {
	ts, _ := newSignalTestServer(t)

	alice := dialClient(t, ts.URL)
	bob := dialClient(t, ts.URL)
	carol := dialClient(t, ts.URL)

	require.Empty(t, alice.call(MethodCreateRoom, CreateRoomRequest{RoomID: "r1"}).Error)
	require.Empty(t, carol.call(MethodCreateRoom, CreateRoomRequest{RoomID: "r2"}).Error)

	require.Empty(t, alice.call(MethodJoin, JoinRequest{RoomID: "r1", Name: "Alice"}).Error)
	require.Empty(t, bob.call(MethodJoin, JoinRequest{RoomID: "r1", Name: "Bob"}).Error)
	require.Empty(t, carol.call(MethodJoin, JoinRequest{RoomID: "r2", Name: "Carol"}).Error)

	aliceTransport := setupTransport(t, alice)
	resp := alice.call(MethodProduce, ProduceRequest{
		Kind:                "video",
		RTPParameters:       videoParameters(),
		ProducerTransportID: aliceTransport,
	})
	require.Empty(t, resp.Error)

	// alice's room-mate hears about the stream, the peer in the other room
	// does not
	bob.expectEvent(rtc.NewProducersMethod)
	carol.expectNoEvent()

	// the other room's backfill stays empty too
	require.Empty(t, carol.call(MethodGetProducers, nil).Error)
	event := carol.expectEvent(rtc.NewProducersMethod)
	var announced []rtc.ProducerInfo
	event.decode(t, &announced)
	require.Empty(t, announced)
}

func TestEmptyRoomIDRejected(t *testing.T) {
	ts, rm := newSignalTestServer(t)
	carol := dialClient(t, ts.URL)

	resp := carol.call(MethodCreateRoom, CreateRoomRequest{RoomID: ""})
	require.Equal(t, "room_id is required", resp.Error)
	require.Equal(t, 0, rm.NumRooms())

	resp = carol.call(MethodJoin, JoinRequest{RoomID: "", Name: "Carol"})
	require.Equal(t, "room_id is required", resp.Error)

	// the session never entered a room
	resp = carol.call(MethodExitRoom, nil)
	require.Equal(t, "not currently in a room", resp.Error)
}

func TestRequestsOutsideRoomAreRejected(t *testing.T) {
	ts, _ := newSignalTestServer(t)
	carol := dialClient(t, ts.URL)

	for _, method := range []string{
		MethodGetProducers,
		MethodGetRtpCapabilities,
		MethodCreateTransport,
		MethodGetMyRoomInfo,
		MethodExitRoom,
	} {
		resp := carol.call(method, nil)
		require.Equal(t, "not currently in a room", resp.Error, "method %s", method)
	}
}

func TestUnknownMethod(t *testing.T) {
	ts, _ := newSignalTestServer(t)
	carol := dialClient(t, ts.URL)

	resp := carol.call("teleport", nil)
	require.Contains(t, resp.Error, "unknown method")
}
