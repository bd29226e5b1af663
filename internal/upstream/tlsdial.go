package upstream

import (
	"context"
	"net"
	"time"

	utls "github.com/refraction-networking/utls"
)

// utlsDialer hands http.Transport a DialTLSContext that performs a uTLS
// handshake mimicking Kiro IDE's Electron/Chromium ClientHello (extension
// order, GREASE, ALPN list) instead of Go's own TLS fingerprint, which
// upstream has been observed to rate-limit more aggressively.
type utlsDialer struct {
	netDialer *net.Dialer
}

func newUTLSDialer() *utlsDialer {
	return &utlsDialer{netDialer: &net.Dialer{Timeout: 15 * time.Second, KeepAlive: 30 * time.Second}}
}

func (d *utlsDialer) DialTLSContext(ctx context.Context, network, addr string) (net.Conn, error) {
	rawConn, err := d.netDialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	uconn := utls.UClient(rawConn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
	if err := uconn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return uconn, nil
}
