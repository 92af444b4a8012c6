// Package control implements the per-component UNIX datagram control
// socket (§6): ACTIVATE <C>, DEACTIVATE <C>, SHUTDOWN, each replied to
// with a single human-readable line.
package control

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Handler reacts to control commands. Implementations are component-
// specific (SE/IAP/OAP/T/R/S each activate/deactivate differently).
type Handler interface {
	Activate(callID int) error
	Deactivate(callID int) error
	Shutdown() error
}

// Server listens on a UNIX datagram socket at path and dispatches
// commands to a Handler.
type Server struct {
	path string
	conn *net.UnixConn
}

// Listen binds a UNIX datagram control socket at path, removing any stale
// socket file left behind by a previous process.
func Listen(path string) (*Server, error) {
	_ = os.Remove(path)

	addr, err := net.ResolveUnixAddr("unixgram", path)
	if err != nil {
		return nil, fmt.Errorf("control: resolve %s: %w", path, err)
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, fmt.Errorf("control: listen %s: %w", path, err)
	}
	return &Server{path: path, conn: conn}, nil
}

// Serve reads datagrams until ctx is cancelled, dispatching each to h and
// writing a single-line reply back to the sender's address (best-effort,
// since UNIX datagram senders are not guaranteed to read the reply).
func (s *Server) Serve(ctx context.Context, h Handler) error {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.conn.Close()
		close(done)
	}()

	buf := make([]byte, 256)
	for {
		n, from, err := s.conn.ReadFromUnix(buf)
		if err != nil {
			select {
			case <-done:
				return nil
			default:
				return err
			}
		}
		reply := s.dispatch(h, string(buf[:n]))
		if from != nil {
			s.conn.WriteToUnix([]byte(reply+"\n"), from)
		}
		if reply == "SHUTTING DOWN" {
			return nil
		}
	}
}

func (s *Server) dispatch(h Handler, line string) string {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return "ERROR empty command"
	}

	switch fields[0] {
	case "ACTIVATE":
		callID, err := parseCallID(fields)
		if err != nil {
			return "ERROR " + err.Error()
		}
		if err := h.Activate(callID); err != nil {
			return "ERROR " + err.Error()
		}
		return "OK"

	case "DEACTIVATE":
		callID, err := parseCallID(fields)
		if err != nil {
			return "ERROR " + err.Error()
		}
		if err := h.Deactivate(callID); err != nil {
			return "ERROR " + err.Error()
		}
		return "OK"

	case "SHUTDOWN":
		if err := h.Shutdown(); err != nil {
			return "ERROR " + err.Error()
		}
		return "SHUTTING DOWN"

	default:
		return "ERROR unknown command " + fields[0]
	}
}

func parseCallID(fields []string) (int, error) {
	if len(fields) < 2 {
		return 0, fmt.Errorf("missing call id")
	}
	return strconv.Atoi(fields[1])
}

// Close removes the socket file and closes the listening connection.
func (s *Server) Close() error {
	err := s.conn.Close()
	_ = os.Remove(s.path)
	return err
}

// Send is a small client helper for sending a control command to a
// component's UNIX datagram socket, used by tests and operator tooling.
// Datagram UNIX sockets need a bound local address for the server's reply
// to be routed back, so the client binds an ephemeral socket of its own.
func Send(path, cmd string) (string, error) {
	addr, err := net.ResolveUnixAddr("unixgram", path)
	if err != nil {
		return "", err
	}

	laddr, err := net.ResolveUnixAddr("unixgram", fmt.Sprintf("%s.%d.client", path, os.Getpid()))
	if err != nil {
		return "", err
	}
	_ = os.Remove(laddr.Name)

	conn, err := net.DialUnix("unixgram", laddr, addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	defer os.Remove(laddr.Name)

	if _, err := conn.Write([]byte(cmd)); err != nil {
		return "", err
	}
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(buf[:n])), nil
}
