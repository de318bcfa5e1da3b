package connection

import "errors"

var (
	ErrAlreadyExists = errors.New("connection already exists")
	ErrNotFound      = errors.New("connection not found")
)

// Member identifies the room user a connection belongs to.
type Member struct {
	RoomId string
	UserId string
}

func (m Member) Key() string {
	return m.RoomId + "/" + m.UserId
}
