package ssh

import (
	"context"
	"net"
	"strconv"

	"github.com/jmorrisuk/ufdeploy/internal/config"
	"github.com/jmorrisuk/ufdeploy/internal/install"
)

// Dialer adapts this package's Client to the workflow's Dialer
// interface, opening one-shot connections that the workflow closes.
type Dialer struct {
	// InsecureHostKey skips known_hosts verification for all hosts.
	InsecureHostKey bool
}

func (d *Dialer) Dial(ctx context.Context, srv config.Server) (install.Session, error) {
	client, err := Dial(ctx, DialConfig{
		Addr:            net.JoinHostPort(srv.Host, strconv.Itoa(srv.Port)),
		User:            srv.User,
		Password:        srv.Password,
		KeyFile:         srv.KeyFile,
		InsecureHostKey: d.InsecureHostKey,
	})
	if err != nil {
		return nil, WrapConnectError(srv.Host, err)
	}
	return client, nil
}
