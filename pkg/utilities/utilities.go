/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package utilities

import (
	"github.com/Juice-Labs/session-proxy/pkg/errors"
)

var (
	ErrInvalidCast = errors.New("utilities: invalid cast")
)

// Cast asserts value to T, returning ErrInvalidCast instead of panicking.
func Cast[T any](value any) (T, error) {
	converted, ok := value.(T)
	if !ok {
		return converted, ErrInvalidCast.Wrapf("%T is not %T", value, converted)
	}

	return converted, nil
}
