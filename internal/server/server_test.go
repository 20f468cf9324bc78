package server

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nlmirror/internal/command"

	"github.com/gorilla/websocket"
)

// echoStream writes a greeting and then blocks until the peer closes.
type echoStream struct {
	greeting string
	handled  atomic.Int32
	stops    atomic.Int32
	panicky  atomic.Bool
}

func (e *echoStream) Handle(conn net.Conn) error {
	e.handled.Add(1)
	if e.panicky.Load() {
		panic("boom")
	}
	if _, err := io.WriteString(conn, e.greeting); err != nil {
		return err
	}
	_, err := io.Copy(io.Discard, conn)
	return err
}

func (e *echoStream) Stop() { e.stops.Add(1) }

func newTestServer(t *testing.T, ws bool) (*Server, *echoStream, *echoStream) {
	t.Helper()
	video := &echoStream{greeting: "video\n"}
	audio := &echoStream{greeting: "audio\n"}
	cfg := Config{
		VideoAddr:   "127.0.0.1:0",
		CommandAddr: "127.0.0.1:0",
		AudioAddr:   "127.0.0.1:0",
		Video:       video,
		Audio:       audio,
		Commands:    command.NewDispatcher(command.Deps{}),
		StopTimeout: time.Second,
	}
	if ws {
		cfg.WebSocketAddr = "127.0.0.1:0"
	}
	s := New(cfg)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Teardown)
	return s, video, audio
}

func dial(t *testing.T, s *Server, name string) net.Conn {
	t.Helper()
	l := s.Listener(name)
	if l == nil {
		t.Fatalf("no %s listener", name)
	}
	conn, err := net.DialTimeout("tcp", l.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", name, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readLine(t *testing.T, r *bufio.Reader, conn net.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return line
}

func TestStreamsRouted(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	for _, name := range []string{"video", "audio"} {
		conn := dial(t, s, name)
		if got := readLine(t, bufio.NewReader(conn), conn); got != name+"\n" {
			t.Errorf("%s greeting = %q", name, got)
		}
	}
}

func TestCommandRoundTrip(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	conn := dial(t, s, "command")
	r := bufio.NewReader(conn)

	io.WriteString(conn, "{\"cmd\":\"nope\"}\n")
	var resp command.Response
	if err := json.Unmarshal([]byte(readLine(t, r, conn)), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != "Unknown command: nope" {
		t.Errorf("error = %q", resp.Error)
	}

	// A malformed line still gets a reply on the same connection.
	io.WriteString(conn, "not json\n")
	if err := json.Unmarshal([]byte(readLine(t, r, conn)), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == "" {
		t.Error("expected error for malformed line")
	}
}

func TestListenersIndependentlyStoppable(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	addr := s.Listener("audio").Addr().String()
	if !s.Listener("audio").Stop(time.Second) {
		t.Fatal("audio listener did not stop")
	}
	if conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		conn.Close()
		t.Error("audio port still accepting after Stop")
	}

	conn := dial(t, s, "video")
	if got := readLine(t, bufio.NewReader(conn), conn); got != "video\n" {
		t.Errorf("video greeting = %q", got)
	}
}

func TestHandlerPanicKeepsListener(t *testing.T) {
	s, video, _ := newTestServer(t, false)
	video.panicky.Store(true)

	conn := dial(t, s, "video")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Error("expected closed connection after handler panic")
	}

	video.panicky.Store(false)
	conn = dial(t, s, "video")
	if got := readLine(t, bufio.NewReader(conn), conn); got != "video\n" {
		t.Errorf("greeting after panic = %q", got)
	}
	if n := video.handled.Load(); n != 2 {
		t.Errorf("handled = %d, want 2", n)
	}
}

func TestTeardownStopsStreams(t *testing.T) {
	s, video, audio := newTestServer(t, false)
	conn := dial(t, s, "video")
	readLine(t, bufio.NewReader(conn), conn)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.Teardown() }()
	go func() { defer wg.Done(); s.Teardown() }()
	wg.Wait()

	if video.stops.Load() != 1 || audio.stops.Load() != 1 {
		t.Errorf("stops = %d/%d, want 1/1", video.stops.Load(), audio.stops.Load())
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Error("open stream connection survived Teardown")
	}
}

func TestStartBindFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer taken.Close()

	s := New(Config{
		VideoAddr:   "127.0.0.1:0",
		CommandAddr: taken.Addr().String(),
		Video:       &echoStream{},
		Commands:    command.NewDispatcher(command.Deps{}),
	})
	if err := s.Start(); err == nil {
		s.Teardown()
		t.Fatal("expected bind error")
	}
}

func TestWebSocketBridge(t *testing.T) {
	s, _, _ := newTestServer(t, true)
	addr := s.WebSocketAddr()
	if addr == nil {
		t.Fatal("bridge not bound")
	}
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr.String()+"/command", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"cmd":"nope"}`)); err != nil {
		t.Fatal(err)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"error":"Unknown command: nope"}`; string(msg) != want {
		t.Errorf("reply = %s, want %s", msg, want)
	}
}
