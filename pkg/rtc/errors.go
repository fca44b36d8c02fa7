package rtc

import "errors"

var (
	ErrRoomClosed        = errors.New("room has already closed")
	ErrNoRouter          = errors.New("room has no router")
	ErrPeerNotFound      = errors.New("peer is not a member of the room")
	ErrTransportNotFound = errors.New("transport not found for peer")
	ErrProducerNotFound  = errors.New("producer not found in room")
	ErrConsumerNotFound  = errors.New("consumer not found for peer")
)
