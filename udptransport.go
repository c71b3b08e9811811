package coap

import (
	"net"
	"time"
)

const maxPktLen = 1500

// UDPTransport is the default Transport (spec section 6): a plain UDP
// socket, adapted from the teacher's ListenAndServe/Serve loop. It
// carries no DTLS/security context of its own -- SecurityContextID on
// the endpoints it produces is always empty -- matching spec section
// 1's framing of the transport as an external collaborator the core
// does not authenticate.
type UDPTransport struct {
	conn   *net.UDPConn
	recvCh chan udpRecvResult
	done   chan struct{}
}

type udpRecvResult struct {
	source Endpoint
	data   []byte
	err    error
}

// ListenUDPTransport binds addr (host:port, or ":port" to listen on
// all interfaces) and starts the background receive loop.
func ListenUDPTransport(addr string) (*UDPTransport, error) {
	uaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", uaddr)
	if err != nil {
		return nil, err
	}
	t := &UDPTransport{
		conn:   conn,
		recvCh: make(chan udpRecvResult, 64),
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *UDPTransport) readLoop() {
	defer close(t.recvCh)
	buf := make([]byte, maxPktLen)
	for {
		nr, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			if neterr, ok := err.(net.Error); ok && neterr.Timeout() {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			traceWarn("[coap] UDPTransport read error: %s", err)
			t.recvCh <- udpRecvResult{err: err}
			return
		}
		data := make([]byte, nr)
		copy(data, buf[:nr])
		t.recvCh <- udpRecvResult{
			source: NewEndpoint(addr.IP.String(), uint16(addr.Port), ""),
			data:   data,
		}
	}
}

// Send implements Transport.
func (t *UDPTransport) Send(dest Endpoint, data []byte) error {
	addr, err := net.ResolveUDPAddr("udp", dest.String())
	if err != nil {
		return err
	}
	_, err = t.conn.WriteToUDP(data, addr)
	return err
}

// Recv implements Transport, blocking until a datagram arrives or the
// transport is closed.
func (t *UDPTransport) Recv() (Endpoint, []byte, error) {
	r, ok := <-t.recvCh
	if !ok {
		return Endpoint{}, nil, net.ErrClosed
	}
	return r.source, r.data, r.err
}

// Close shuts down the listening socket and receive loop.
func (t *UDPTransport) Close() error {
	close(t.done)
	return t.conn.Close()
}
