// Package tidepool is a database-driver-shaped client for the Tidepool
// analytical query service. A caller connects with one of three credential
// strategies, submits SQL through a cursor, waits for asynchronous
// server-side completion, and pages through the result set.
//
//	conn, err := tidepool.Connect(tidepool.Config{
//		LoginURL: "https://login.example.com",
//		Username: "ana@example.com",
//		Password: "hunter2",
//		ClientID: "app", ClientSecret: "secret",
//	})
//	if err != nil { ... }
//	defer conn.Close()
//
//	cur, _ := conn.Cursor()
//	if err := cur.Execute(ctx, "SELECT Id FROM Contact LIMIT 2"); err != nil { ... }
//	rows, err := cur.FetchAll(ctx)
//
// The wire protocol is pluggable: REST is the default, with grpc-go and
// connect-go variants selected by Config.Transport. All transports yield
// identical result shapes, so cursor behavior does not depend on the
// transport in use.
package tidepool

import (
	"github.com/coral-mesh/tidepool/internal/transport"
	connecttransport "github.com/coral-mesh/tidepool/internal/transport/connect"
	grpctransport "github.com/coral-mesh/tidepool/internal/transport/grpc"
	resttransport "github.com/coral-mesh/tidepool/internal/transport/rest"
)

// The transport set is closed and registered at startup.
func init() {
	transport.Register(TransportREST, resttransport.New)
	transport.Register(TransportGRPC, grpctransport.New)
	transport.Register(TransportConnect, connecttransport.New)
}

// Column describes one result column by name and server-declared type.
type Column = transport.Column

// Connect resolves the configured credential strategy and transport, and
// returns a Connection ready to hand out cursors. No network call happens
// here; authentication is deferred to the first operation.
func Connect(cfg Config) (*Connection, error) {
	cfg.withDefaults()

	strategy, err := cfg.strategy()
	if err != nil {
		return nil, err
	}

	logger := cfg.logger()
	client, err := transport.New(cfg.Transport, transport.Config{
		Strategy:   strategy,
		Endpoint:   cfg.Endpoint,
		HTTPClient: cfg.HTTPClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &Connection{
		cfg:    cfg,
		client: client,
		logger: logger.With().Str("component", "connection").Logger(),
	}, nil
}
