package inmemory

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sharetube/watchparty/internal/repository/connection"
)

type repo struct {
	connList map[*websocket.Conn]connection.Member
	idList   map[string]*websocket.Conn
	mu       sync.RWMutex
	logger   *slog.Logger
}

func NewRepo(logger *slog.Logger) *repo {
	return &repo{
		connList: make(map[*websocket.Conn]connection.Member),
		idList:   make(map[string]*websocket.Conn),
		logger:   logger,
	}
}

func (r *repo) Add(conn *websocket.Conn, member connection.Member) error {
	funcName := "connection.inmemory.Add"
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Debug(funcName, "room_id", member.RoomId, "user_id", member.UserId)
	if _, ok := r.connList[conn]; ok || r.idList[member.Key()] != nil {
		r.logger.Info(funcName, "error", connection.ErrAlreadyExists)
		return connection.ErrAlreadyExists
	}

	r.connList[conn] = member
	r.idList[member.Key()] = conn

	r.logger.Debug(funcName, "result", "OK")
	return nil
}

// RemoveByConn forgets the connection without closing it.
func (r *repo) RemoveByConn(conn *websocket.Conn) error {
	funcName := "connection.inmemory.RemoveByConn"
	r.mu.Lock()
	defer r.mu.Unlock()

	member, ok := r.connList[conn]
	if !ok {
		r.logger.Debug(funcName, "error", connection.ErrNotFound)
		return connection.ErrNotFound
	}

	delete(r.connList, conn)
	if r.idList[member.Key()] == conn {
		delete(r.idList, member.Key())
	}

	r.logger.Debug(funcName, "result", member.UserId)
	return nil
}

// RemoveByMember forgets the member's connection and closes it.
func (r *repo) RemoveByMember(member connection.Member) error {
	funcName := "connection.inmemory.RemoveByMember"
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Debug(funcName, "room_id", member.RoomId, "user_id", member.UserId)
	conn, ok := r.idList[member.Key()]
	if !ok {
		r.logger.Debug(funcName, "error", connection.ErrNotFound)
		return connection.ErrNotFound
	}
	conn.Close()

	delete(r.connList, conn)
	delete(r.idList, member.Key())

	r.logger.Debug(funcName, "result", "OK")
	return nil
}

func (r *repo) GetConn(member connection.Member) (*websocket.Conn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.idList[member.Key()]
	if !ok {
		return nil, connection.ErrNotFound
	}

	return conn, nil
}

func (r *repo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.connList)
}

// All returns a snapshot of the registered connections.
func (r *repo) All() []*websocket.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*websocket.Conn, 0, len(r.connList))
	for conn := range r.connList {
		conns = append(conns, conn)
	}

	return conns
}
