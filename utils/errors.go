// Package utils contains small helpers shared across the netft packages.
package utils

import (
	"reflect"

	"github.com/pkg/errors"
)

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError[ExpectedT any](actual interface{}) error {
	return errors.Errorf("expected %s but got %T", TypeStr[ExpectedT](), actual)
}

// TypeStr returns the name of the type parameter, dereferencing pointers to interfaces.
func TypeStr[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
