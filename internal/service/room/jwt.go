package room

import (
	"github.com/golang-jwt/jwt/v5"
)

const (
	roomIdKey = "room_id"
	userIdKey = "user_id"
)

type Claims struct {
	RoomId string `json:"room_id"`
	UserId string `json:"user_id"`
}

func (s *Service) generateJWT(roomId, userId string) (string, error) {
	claims := jwt.MapClaims{
		roomIdKey: roomId,
		userIdKey: userId,
		"iat":     s.clock.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString([]byte(s.config.Secret))
}

func (s *Service) parseJWT(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.config.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, ErrInvalidToken
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	roomId, ok := claims[roomIdKey].(string)
	if !ok {
		return nil, ErrInvalidToken
	}

	userId, ok := claims[userIdKey].(string)
	if !ok {
		return nil, ErrInvalidToken
	}

	return &Claims{
		RoomId: roomId,
		UserId: userId,
	}, nil
}
