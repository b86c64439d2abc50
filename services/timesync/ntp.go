//go:build !tinygo

package timesync

import (
	"context"
	"time"

	"github.com/beevik/ntp"

	"watchcode-go/errcode"
)

// NTPNetwork queries an NTP server over the host's own network stack. Link
// reports whether the (simulated) radio may associate; nil means always.
type NTPNetwork struct {
	Link func() bool
	// Query is replaceable for tests.
	Query func(server string, opt ntp.QueryOptions) (*ntp.Response, error)
}

func (n *NTPNetwork) Connect(ctx context.Context, _ Credentials) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n.Link != nil && !n.Link() {
		return nil, errcode.LinkDown
	}
	q := n.Query
	if q == nil {
		q = ntp.QueryWithOptions
	}
	return &ntpConn{query: q}, nil
}

type ntpConn struct {
	query func(server string, opt ntp.QueryOptions) (*ntp.Response, error)
}

func (c *ntpConn) TimeSync(ctx context.Context, server string) (time.Time, error) {
	opt := ntp.QueryOptions{Timeout: 5 * time.Second}
	if dl, ok := ctx.Deadline(); ok {
		opt.Timeout = time.Until(dl)
		if opt.Timeout <= 0 {
			return time.Time{}, context.DeadlineExceeded
		}
	}
	resp, err := c.query(server, opt)
	if err != nil {
		code := errcode.MapDriverErr(err)
		if code == errcode.Error {
			code = errcode.LinkDown
		}
		return time.Time{}, &errcode.E{C: code, Op: "ntp.query", Msg: err.Error(), Err: err}
	}
	if err := resp.Validate(); err != nil {
		return time.Time{}, &errcode.E{C: errcode.InvalidResponse, Op: "ntp.validate", Msg: err.Error(), Err: err}
	}
	return time.Now().Add(resp.ClockOffset), nil
}

func (c *ntpConn) Close() error { return nil }
