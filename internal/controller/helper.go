package controller

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNoSession    = errors.New("no session in context")
	ErrJoinExpected = errors.New("first message must be room:join")
)

const (
	closeCodeSessionEnded = 4000
	closeCodeJoinRefused  = 4001
	closeCodeReplaced     = 4002
)

func (c controller) generateTimeBasedId() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
