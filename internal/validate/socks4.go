package validate

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

const (
	socks4Version = 0x04
	socks4Connect = 0x01
	socks4Granted = 0x5a
)

var errSOCKS4Rejected = errors.New("socks4 request rejected")

type contextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// socks4Dialer opens CONNECT tunnels through a SOCKS4 relay. Hostnames are
// resolved locally since SOCKS4 only carries IPv4 destinations.
type socks4Dialer struct {
	proxyAddr string
	forward   contextDialer
}

func (d *socks4Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network != "tcp" && network != "tcp4" {
		return nil, fmt.Errorf("socks4: unsupported network %q", network)
	}
	host, rawPort, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("socks4: %w", err)
	}
	port, err := strconv.ParseUint(rawPort, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("socks4: bad port %q", rawPort)
	}
	ip, err := resolveIPv4(ctx, host)
	if err != nil {
		return nil, err
	}

	conn, err := d.forward.DialContext(ctx, "tcp", d.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks4: dial relay: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := socks4Handshake(conn, ip, uint16(port)); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}

func socks4Handshake(conn io.ReadWriter, ip net.IP, port uint16) error {
	req := make([]byte, 0, 9)
	req = append(req, socks4Version, socks4Connect)
	req = binary.BigEndian.AppendUint16(req, port)
	req = append(req, ip.To4()...)
	req = append(req, 0x00) // empty user id
	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("socks4: write request: %w", err)
	}
	var reply [8]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		return fmt.Errorf("socks4: read reply: %w", err)
	}
	if reply[1] != socks4Granted {
		return fmt.Errorf("%w: code 0x%02x", errSOCKS4Rejected, reply[1])
	}
	return nil
}

func resolveIPv4(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, fmt.Errorf("socks4: %s is not an IPv4 address", host)
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, fmt.Errorf("socks4: resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("socks4: no IPv4 address for %s", host)
	}
	return ips[0].To4(), nil
}
