package reciever

import (
	"context"
)

type Reciever interface {
	// StartServer serves on every address of the comma separated listen
	// list and returns once all of them are bound.
	StartServer(serverName string, listen string) error
	Shutdown(ctx context.Context) error
}
