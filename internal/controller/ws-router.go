package controller

import (
	"github.com/sharetube/watchparty/internal/protocol"
	"github.com/sharetube/watchparty/pkg/wsrouter"
)

func (c controller) getWSRouter() *wsrouter.WSRouter {
	mux := wsrouter.New()
	mux.Use(c.wsRequestIdWSMw(), c.loggerWSMw())

	wsrouter.Handle(mux, protocol.TypeJoin, c.handleJoin)

	// player
	wsrouter.Handle(mux, protocol.TypeAction, c.handleAction)
	wsrouter.Handle(mux, protocol.TypeNext, c.handleNext)
	wsrouter.Handle(mux, protocol.TypeHeartbeat, c.handleHeartbeat)

	// playlist
	wsrouter.Handle(mux, protocol.TypePlaylistAdd, c.handlePlaylistAdd)

	// room
	wsrouter.Handle(mux, protocol.TypeSetMode, c.handleSetMode)
	wsrouter.Handle(mux, protocol.TypeResync, c.handleResync)

	// chat
	wsrouter.Handle(mux, protocol.TypeChatMessage, c.handleChat)
	wsrouter.Handle(mux, protocol.TypeSuggestRequest, c.handleSuggest)

	return mux
}
