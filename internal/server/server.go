// Package server wires the HTTP and gRPC transports of HookGuard.
package server

import (
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewMetrics, NewHealth, NewHTTPServer, NewGRPCServer)
