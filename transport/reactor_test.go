package transport

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	stdhttp "net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/indigo-web/webserv/config"
	"github.com/indigo-web/webserv/http/method"
	"github.com/indigo-web/webserv/http/mime"
	"github.com/indigo-web/webserv/router"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const indexContent = "<h1>it works</h1>"

func newTestRoot(t *testing.T) string {
	root := t.TempDir()
	files := map[string]string{
		"index.html": indexContent,
		"cgi-bin/echo.cgi": `#!/bin/sh
printf 'Content-Type: text/plain\r\n\r\n'
printf '%s:' "$REQUEST_METHOD"
/bin/cat
`,
		"cgi-bin/lingering.cgi": `#!/bin/sh
printf 'Content-Type: text/plain\r\n\r\ndone'
exec 1>&-
exec /bin/sleep 2
`,
		"cgi-bin/slow.cgi": "#!/bin/sh\necho $$ > '" + filepath.Join(root, "pid") + "'\nexec /bin/sleep 30\n",
	}

	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	}

	return root
}

func runReactor(t *testing.T, cfg *config.Config, root string) (*Reactor, string) {
	srv := config.NewServer()
	srv.Host = "127.0.0.1"
	srv.Port = 0
	srv.Locations = []config.Location{
		{Name: "/", Root: root, Index: []string{"index.html"}},
		{
			Name: "/cgi-bin", Root: filepath.Join(root, "cgi-bin"),
			CGI: true, CGIExtensions: []string{".cgi"},
			Methods: method.NewSet(method.GET, method.POST),
		},
	}
	require.NoError(t, srv.Validate())

	reactor, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	addr, err := reactor.Bind(&srv, router.New(cfg, &srv, mime.Default()))
	require.NoError(t, err)

	stopped := make(chan error, 1)
	go func() {
		stopped <- reactor.Run()
	}()

	t.Cleanup(func() {
		reactor.Stop()
		select {
		case err := <-stopped:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("reactor didn't stop in time")
		}
	})

	return reactor, addr.String()
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	t.Cleanup(func() {
		_ = conn.Close()
	})

	return conn, bufio.NewReader(conn)
}

func roundTrip(t *testing.T, conn net.Conn, r *bufio.Reader, request string) (*stdhttp.Response, string) {
	_, err := conn.Write([]byte(request))
	require.NoError(t, err)

	resp, err := stdhttp.ReadResponse(r, nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return resp, string(body)
}

func requireClosed(t *testing.T, r *bufio.Reader) {
	_, err := r.ReadByte()
	require.ErrorIs(t, err, io.EOF)
}

func TestReactor(t *testing.T) {
	cfg := config.Default()
	root := newTestRoot(t)
	_, addr := runReactor(t, cfg, root)

	t.Run("static file", func(t *testing.T) {
		conn, r := dial(t, addr)
		resp, body := roundTrip(t, conn, r, "GET / HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n")
		require.Equal(t, 200, resp.StatusCode)
		require.Equal(t, indexContent, body)
		require.Equal(t, strconv.Itoa(len(indexContent)), resp.Header.Get("Content-Length"))
		require.Equal(t, cfg.CGI.Software, resp.Header.Get("Server"))
		requireClosed(t, r)
	})

	t.Run("keep-alive", func(t *testing.T) {
		conn, r := dial(t, addr)
		for i := 0; i < 3; i++ {
			resp, body := roundTrip(t, conn, r, "GET /index.html HTTP/1.1\r\nHost: localhost\r\n\r\n")
			require.Equal(t, 200, resp.StatusCode)
			require.Equal(t, "keep-alive", resp.Header.Get("Connection"))
			require.Equal(t, indexContent, body)
		}
	})

	t.Run("HTTP/1.0 closes by default", func(t *testing.T) {
		conn, r := dial(t, addr)
		resp, _ := roundTrip(t, conn, r, "GET / HTTP/1.0\r\n\r\n")
		require.Equal(t, 200, resp.StatusCode)
		requireClosed(t, r)
	})

	t.Run("request split into many writes", func(t *testing.T) {
		conn, r := dial(t, addr)
		request := "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n"
		for i := range request {
			_, err := conn.Write([]byte{request[i]})
			require.NoError(t, err)
		}

		resp, err := stdhttp.ReadResponse(r, nil)
		require.NoError(t, err)
		require.Equal(t, 200, resp.StatusCode)
	})

	t.Run("not found", func(t *testing.T) {
		conn, r := dial(t, addr)
		resp, _ := roundTrip(t, conn, r, "GET /nothing-here HTTP/1.1\r\nHost: localhost\r\n\r\n")
		require.Equal(t, 404, resp.StatusCode)
	})

	t.Run("malformed request is isolated", func(t *testing.T) {
		healthy, healthyReader := dial(t, addr)
		_, err := healthy.Write([]byte("GET / HTTP/1.1\r\n"))
		require.NoError(t, err)

		conn, r := dial(t, addr)
		resp, _ := roundTrip(t, conn, r, "GARBAGE\r\n\r\n")
		require.Equal(t, 400, resp.StatusCode)
		require.Equal(t, "close", resp.Header.Get("Connection"))
		requireClosed(t, r)

		_, err = healthy.Write([]byte("Host: localhost\r\n\r\n"))
		require.NoError(t, err)
		resp, err = stdhttp.ReadResponse(healthyReader, nil)
		require.NoError(t, err)
		require.Equal(t, 200, resp.StatusCode)
	})

	t.Run("cgi with body", func(t *testing.T) {
		conn, r := dial(t, addr)
		resp, body := roundTrip(t, conn, r, "POST /cgi-bin/echo.cgi HTTP/1.1\r\nHost: localhost\r\n"+
			"Content-Length: 5\r\n\r\nhello")
		require.Equal(t, 200, resp.StatusCode)
		require.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
		require.Equal(t, "POST:hello", body)
	})

	t.Run("cgi with chunked body", func(t *testing.T) {
		conn, r := dial(t, addr)
		resp, body := roundTrip(t, conn, r, "POST /cgi-bin/echo.cgi HTTP/1.1\r\nHost: localhost\r\n"+
			"Transfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n")
		require.Equal(t, 200, resp.StatusCode)
		require.Equal(t, "POST:hello world", body)
	})

	t.Run("cgi without body and keep-alive", func(t *testing.T) {
		conn, r := dial(t, addr)
		for i := 0; i < 2; i++ {
			resp, body := roundTrip(t, conn, r, "GET /cgi-bin/echo.cgi HTTP/1.1\r\nHost: localhost\r\n\r\n")
			require.Equal(t, 200, resp.StatusCode)
			require.Equal(t, "GET:", body)
		}
	})

	t.Run("script outliving its output", func(t *testing.T) {
		conn, r := dial(t, addr)
		_, err := conn.Write([]byte("GET /cgi-bin/lingering.cgi HTTP/1.1\r\nHost: localhost\r\n\r\n"))
		require.NoError(t, err)
		time.Sleep(300 * time.Millisecond)

		start := time.Now()
		other, otherReader := dial(t, addr)
		resp, body := roundTrip(t, other, otherReader, "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")
		require.Equal(t, 200, resp.StatusCode)
		require.Equal(t, indexContent, body)
		require.Less(t, time.Since(start), time.Second, "other clients must be served while the script runs")

		resp, err = stdhttp.ReadResponse(r, nil)
		require.NoError(t, err)
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, 200, resp.StatusCode)
		require.Equal(t, "done", string(data))
	})

	t.Run("client gone while script runs", func(t *testing.T) {
		conn, _ := dial(t, addr)
		_, err := conn.Write([]byte("GET /cgi-bin/slow.cgi HTTP/1.1\r\nHost: localhost\r\n\r\n"))
		require.NoError(t, err)

		pidfile := filepath.Join(root, "pid")
		var pid int
		require.Eventually(t, func() bool {
			data, err := os.ReadFile(pidfile)
			if err != nil {
				return false
			}

			pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
			return err == nil
		}, 5*time.Second, 10*time.Millisecond)

		// reset the connection, so the hangup is reported right away
		require.NoError(t, conn.(*net.TCPConn).SetLinger(0))
		require.NoError(t, conn.Close())

		require.Eventually(t, func() bool {
			return errors.Is(syscall.Kill(pid, 0), syscall.ESRCH)
		}, 5*time.Second, 10*time.Millisecond, "the script must be killed and reaped")
	})
}

func TestReactorIdleSweep(t *testing.T) {
	cfg := config.Default()
	cfg.NET.IdleTimeout = 100 * time.Millisecond
	cfg.NET.SweepInterval = 50 * time.Millisecond
	_, addr := runReactor(t, cfg, newTestRoot(t))

	_, r := dial(t, addr)
	requireClosed(t, r)
}

type syncBuffer struct {
	mu   sync.Mutex
	buff bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buff.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buff.String()
}

func TestReactorAcceptBackoff(t *testing.T) {
	cfg := config.Default()
	cfg.NET.SweepInterval = 100 * time.Millisecond

	var logs syncBuffer
	reactor, err := New(cfg, zerolog.New(&logs).Level(zerolog.ErrorLevel))
	require.NoError(t, err)

	srv := config.NewServer()
	srv.Host = "127.0.0.1"
	srv.Port = 0
	srv.Locations = []config.Location{{Name: "/", Root: newTestRoot(t), Index: []string{"index.html"}}}
	addr, err := reactor.Bind(&srv, router.New(cfg, &srv, mime.Default()))
	require.NoError(t, err)

	conn, r := dial(t, addr.String())

	// the lowest free descriptor is what accept would return, so limiting descriptors
	// to it makes accept fail with EMFILE
	devnull, err := os.Open(os.DevNull)
	require.NoError(t, err)
	lowest := devnull.Fd()
	require.NoError(t, devnull.Close())

	var original unix.Rlimit
	require.NoError(t, unix.Getrlimit(unix.RLIMIT_NOFILE, &original))
	limited := original
	limited.Cur = uint64(lowest)
	require.NoError(t, unix.Setrlimit(unix.RLIMIT_NOFILE, &limited))
	restored := false
	restore := func() {
		if !restored {
			restored = true
			require.NoError(t, unix.Setrlimit(unix.RLIMIT_NOFILE, &original))
		}
	}
	defer restore()

	stopped := make(chan error, 1)
	go func() {
		stopped <- reactor.Run()
	}()
	defer func() {
		reactor.Stop()
		require.NoError(t, <-stopped)
	}()

	time.Sleep(500 * time.Millisecond)
	restore()

	// roughly one failure per sweep is expected, a spinning listener would log thousands
	require.Less(t, strings.Count(logs.String(), "cannot accept connection"), 20)

	resp, body := roundTrip(t, conn, r, "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, indexContent, body)
}

func TestReactorStop(t *testing.T) {
	cfg := config.Default()
	reactor, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	srv := config.NewServer()
	srv.Host = "127.0.0.1"
	srv.Port = 0
	srv.Locations = []config.Location{{Name: "/", Root: t.TempDir()}}
	addr, err := reactor.Bind(&srv, router.New(cfg, &srv, mime.Default()))
	require.NoError(t, err)
	require.Len(t, reactor.Addrs(), 1)

	stopped := make(chan error)
	go func() {
		stopped <- reactor.Run()
	}()

	conn, r := dial(t, addr.String())
	reactor.Stop()
	reactor.Stop()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reactor didn't stop in time")
	}

	// the connection might still be in the backlog, so a reset is fine as well
	_, err = r.ReadByte()
	require.Error(t, err)
	_ = conn.Close()

	_, err = net.Dial("tcp", addr.String())
	require.Error(t, err)
}
