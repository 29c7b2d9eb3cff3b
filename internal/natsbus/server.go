package natsbus

import (
	"fmt"
	"net"
	"time"

	"github.com/mtzanidakis/directorate/internal/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

// Bus is an embedded NATS server. Run events are fanned out through it to the
// websocket hub and any external subscriber.
type Bus struct {
	server *natsserver.Server
}

func New(cfg config.NATSConfig) (*Bus, error) {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   cfg.Port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready")
	}

	return &Bus{server: ns}, nil
}

func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Port returns the bound port, which differs from the configured one when
// a random port (-1) was requested.
func (b *Bus) Port() int {
	if addr, ok := b.server.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
