package messaging

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Subject naming convention: one subject per cluster.
const (
	instanceEventsSuffix = ".instance-events"
	listInstancesSuffix  = ".list-instances"
)

// InstanceEventsSubject returns the subject a cluster publishes its instance
// status events on.
func InstanceEventsSubject(clusterName string) string {
	return "cluster." + clusterName + instanceEventsSuffix
}

// ListInstancesSubject returns the request/reply subject on which a cluster
// reports the instance ids it currently runs.
func ListInstancesSubject(clusterName string) string {
	return "cluster." + clusterName + listInstancesSuffix
}

// ListInstancesReply is the payload a cluster answers sweep requests with.
type ListInstancesReply struct {
	InstanceIDs []string `json:"instanceIds"`
}

// Connect establishes a named connection to a NATS server. The connection is
// dialed once by the process root and handed to every component that needs
// it; reconnects are handled by the client, with connection-state transitions
// logged so an outage is visible before the first failed publish.
func Connect(natsURL, name string, logger zerolog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats connection lost")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("server", nc.ConnectedUrl()).Msg("nats connection restored")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", natsURL, err)
	}
	return nc, nil
}

// StartEmbeddedServer runs an in-process NATS server and waits until it
// accepts connections. Used by the --embedded-nats dev mode and by tests.
func StartEmbeddedServer(addr string) (*server.Server, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid nats addr %q: %w", addr, err)
	}
	portInt, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid nats port %q: %w", port, err)
	}

	ns, err := server.NewServer(&server.Options{Host: host, Port: portInt})
	if err != nil {
		return nil, fmt.Errorf("create embedded nats server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(4 * time.Second) {
		return nil, fmt.Errorf("embedded nats server did not become ready")
	}
	return ns, nil
}
