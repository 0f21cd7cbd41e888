package engine

import "github.com/google/uuid"

func newOrderID() string {
	return uuid.NewString()
}
