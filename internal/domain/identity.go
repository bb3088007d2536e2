// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const MaxIdentityLen = 36

var (
	ErrIdentityEmpty   = errors.New("identity empty")
	ErrIdentityTooLong = errors.New("identity too long")
)

// Identity is a display name bound to at most one live connection.
type Identity string

// ValidateIdentity rejects names the presence registry will not accept.
func ValidateIdentity(name string) error {
	if len(name) == 0 {
		return ErrIdentityEmpty
	}
	if len(name) > MaxIdentityLen {
		return ErrIdentityTooLong
	}
	return nil
}
