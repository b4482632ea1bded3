// Package probe queries the status of game servers: the Java edition server
// list ping over TCP and the Bedrock edition unconnected ping over UDP.
package probe

import (
	"context"
	"math/rand/v2"
	"net"
	"time"

	"github.com/MrSnakeDoc/mcwatch/internal/domain"
)

// DefaultTimeout applies when ctx carries no deadline.
const DefaultTimeout = 5 * time.Second

// Client implements domain.Prober.
type Client struct {
	dialer net.Dialer
	now    func() time.Time
	guid   uint64
}

func New() *Client {
	return &Client{now: time.Now, guid: rand.Uint64()}
}

// Probe performs one status query. The connection is torn down as soon as
// ctx is done.
func (c *Client) Probe(ctx context.Context, addr domain.Address, kind domain.ProtocolKind) (*domain.StatusReading, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	network := "tcp"
	if kind == domain.ProtocolBedrock {
		network = "udp"
	}
	conn, err := c.dialer.DialContext(ctx, network, addr.String())
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var reading *domain.StatusReading
	if kind == domain.ProtocolBedrock {
		reading, err = bedrockProbe(conn, c.now, c.guid)
	} else {
		reading, err = javaProbe(conn, addr, c.now)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return reading, nil
}
