package utils

import (
	"github.com/lithammer/shortuuid/v3"
)

const (
	ConnectionPrefix = "CN-"
	WorkerPrefix     = "WK-"
	RouterPrefix     = "RT-"
	TransportPrefix  = "TR-"
	ProducerPrefix   = "PR-"
	ConsumerPrefix   = "CO-"
)

func NewGuid(prefix string) string {
	return prefix + shortuuid.New()
}
