package controller

import (
	"context"

	"github.com/sharetube/watchparty/internal/service/room"
)

type contextKey int

const (
	sessionCtxKey contextKey = iota
)

func (c controller) getSessionFromCtx(ctx context.Context) (*room.Session, error) {
	session, ok := ctx.Value(sessionCtxKey).(*room.Session)
	if !ok || session == nil {
		return nil, ErrNoSession
	}

	return session, nil
}
