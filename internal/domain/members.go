package domain

import (
	"errors"
	"time"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUsersLimitReached = errors.New("users limit reached")
)

type Role string

const (
	RoleHost  Role = "HOST"
	RoleGuest Role = "GUEST"
)

type User struct {
	Id       string    `json:"id"`
	Name     string    `json:"name"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Users keeps members in join order, so the earliest joined member is first.
type Users struct {
	list  []User
	limit int
}

func NewUsers(limit int) *Users {
	return &Users{
		list:  []User{},
		limit: limit,
	}
}

func (u Users) Length() int {
	return len(u.list)
}

func (u Users) AsList() []User {
	list := make([]User, len(u.list))
	copy(list, u.list)
	return list
}

func (u Users) GetById(id string) (User, int, error) {
	for index, user := range u.list {
		if user.Id == id {
			return user, index, nil
		}
	}

	return User{}, 0, ErrUserNotFound
}

func (u Users) Host() (User, bool) {
	for _, user := range u.list {
		if user.Role == RoleHost {
			return user, true
		}
	}

	return User{}, false
}

func (u *Users) Add(user User) error {
	if _, _, err := u.GetById(user.Id); err == nil {
		return ErrUserAlreadyExists
	}

	if u.limit > 0 && u.Length() >= u.limit {
		return ErrUsersLimitReached
	}

	u.list = append(u.list, user)
	return nil
}

func (u *Users) RemoveById(id string) (User, error) {
	user, index, err := u.GetById(id)
	if err != nil {
		return User{}, err
	}

	u.list = append(u.list[:index], u.list[index+1:]...)
	return user, nil
}

func (u *Users) SetRole(id string, role Role) (User, error) {
	_, index, err := u.GetById(id)
	if err != nil {
		return User{}, err
	}

	u.list[index].Role = role
	return u.list[index], nil
}
