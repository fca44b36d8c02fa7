package service

import "github.com/pkg/errors"

var (
	ErrRoomAlreadyExists = errors.New("already exists")
	ErrRoomNotFound      = errors.New("Room does not exist")
	ErrNotInRoom         = errors.New("not currently in a room")
	ErrAlreadyJoined     = errors.New("already joined")
)
