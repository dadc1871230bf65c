package domain

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrInvalidUserName = errors.New("invalid user name")
	userNameRegex      = regexp.MustCompile(`^[\p{L}\p{N}_.-]{1,64}$`)
)

// User is a registered account. Credentials live outside this server; a
// fronting proxy vouches for the name.
type User struct {
	ID     Identity
	Name   string
	Admin  bool
	Active bool
}

func NewUser(name string) (User, error) {
	if err := ValidateUserName(name); err != nil {
		return User{}, err
	}
	return User{ID: NewIdentity(), Name: name, Active: true}, nil
}

func ValidateUserName(name string) error {
	if !userNameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidUserName, name)
	}
	return nil
}
