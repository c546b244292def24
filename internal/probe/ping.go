package probe

import (
	"context"
	"net"
	"net/netip"
	"time"
)

// PingTCP measures reachability of addr by opening a bare TCP connection and
// closing it immediately. No data is exchanged; the connect duration is the
// measurement.
//
// The elapsed time is recorded even when the connect fails, so callers can
// report how long a timed-out attempt actually took.
func PingTCP(ctx context.Context, addr netip.AddrPort) Result {
	var dialer net.Dialer

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr.String())
	res := Result{Connect: time.Since(start)}
	if err != nil {
		res.Err = err
		return res
	}
	_ = conn.Close()
	return res
}
