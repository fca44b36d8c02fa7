package service

import (
	"github.com/pion/webrtc/v3"

	"github.com/voxcast/voxcast-server/pkg/media"
)

// Request method names.
const (
	MethodCreateRoom         = "createRoom"
	MethodJoin               = "join"
	MethodGetProducers       = "getProducers"
	MethodGetRtpCapabilities = "getRouterRtpCapabilities"
	MethodCreateTransport    = "createWebRtcTransport"
	MethodConnectTransport   = "connectTransport"
	MethodProduce            = "produce"
	MethodConsume            = "consume"
	MethodResume             = "resume"
	MethodGetMyRoomInfo      = "getMyRoomInfo"
	MethodProducerClosed     = "producerClosed"
	MethodExitRoom           = "exitRoom"
	MethodDisconnect         = "disconnect"
)

const (
	responseSuccess    = "success"
	responseExitedRoom = "successfully exited room"
)

type CreateRoomRequest struct {
	RoomID string `json:"room_id"`
}

type JoinRequest struct {
	RoomID string `json:"room_id"`
	Name   string `json:"name"`
}

type ConnectTransportRequest struct {
	TransportID    string                `json:"transport_id"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
	ICEParameters  *webrtc.ICEParameters `json:"iceParameters,omitempty"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates,omitempty"`
}

type ProduceRequest struct {
	Kind                string              `json:"kind"`
	RTPParameters       media.RTPParameters `json:"rtpParameters"`
	ProducerTransportID string              `json:"producerTransportId"`
}

type ProduceResponse struct {
	ProducerID string `json:"producer_id"`
}

type ConsumeRequest struct {
	ConsumerTransportID string                 `json:"consumerTransportId"`
	ProducerID          string                 `json:"producerId"`
	RTPCapabilities     webrtc.RTPCapabilities `json:"rtpCapabilities"`
}

type ResumeRequest struct {
	ConsumerID string `json:"consumer_id"`
}

type ProducerClosedRequest struct {
	ProducerID string `json:"producer_id"`
}
