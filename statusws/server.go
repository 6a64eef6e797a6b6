package statusws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user-none/emubridge/logging"
)

// Handler returns the websocket endpoint. Only local origins are accepted.
func (b *Broadcaster) Handler() http.Handler {
	upgrader := websocket.Upgrader{CheckOrigin: sameHost}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.log.Debugf("status upgrade: %v", err)
			return
		}
		b.log.Debugf("status client connected: %s", r.RemoteAddr)
		c := b.AddClient(conn)

		go func() {
			defer b.RemoveClient(c)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
}

func sameHost(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		host = r.Host
	}
	for _, scheme := range []string{"http://", "https://"} {
		if rest, ok := strings.CutPrefix(origin, scheme); ok && rest != "" {
			oh, _, err := net.SplitHostPort(rest)
			if err != nil {
				oh = rest
			}
			return oh == host
		}
	}
	return false
}

// Server serves the status feed at /ws.
type Server struct {
	srv *http.Server
	ln  net.Listener
	log *logging.Logger
}

// Listen binds addr and starts serving in the background.
func Listen(addr string, b *Broadcaster, lg *logging.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/ws", b.Handler())

	s := &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
		log: lg,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Errorf("status server: %v", err)
		}
	}()
	lg.Printf("status feed on ws://%s/ws", ln.Addr())
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
