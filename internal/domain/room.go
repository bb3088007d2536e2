package domain

import "errors"

var ErrRoomIDEmpty = errors.New("room id empty")

// RoomID is supplied by clients; a room exists iff it has participants.
type RoomID string

func ValidateRoomID(id string) error {
	if len(id) == 0 {
		return ErrRoomIDEmpty
	}
	return nil
}
