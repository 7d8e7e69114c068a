package reporting

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/updatekit/internal/progress"
)

// wsServer accepts one reporter connection and exposes received events.
type wsServer struct {
	*httptest.Server
	conns chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{conns: make(chan *websocket.Conn, 1)}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		s.conns <- conn
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("reporter never connected")
		return nil
	}
}

func TestReporterStreamsProgress(t *testing.T) {
	srv := newWSServer(t)
	r := New(Config{ServerURL: srv.URL, Workspace: "/opt/app"})
	r.Start()
	defer r.Stop()

	conn := srv.waitConn(t)
	defer conn.Close()

	sink := r.Sink(nil)
	p := progress.GlobalProgression{}
	p.AppliedFiles.End = 3
	p.FailedFiles = 1
	if !sink.Progress(nil, p) {
		t.Fatal("sink cancelled unexpectedly")
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "progress" || ev.Workspace != "/opt/app" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.AppliedFiles.End != 3 || ev.FailedFiles != 1 {
		t.Fatalf("counters = %+v", ev)
	}
}

func TestReporterRemoteCancel(t *testing.T) {
	srv := newWSServer(t)
	r := New(Config{ServerURL: srv.URL, Workspace: "/opt/app"})
	r.Start()
	defer r.Stop()

	conn := srv.waitConn(t)
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "cancel"}); err != nil {
		t.Fatal(err)
	}

	sink := r.Sink(nil)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !sink.Progress(nil, progress.GlobalProgression{}) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("remote cancel never took effect")
}

func TestReporterInnerSinkDecides(t *testing.T) {
	srv := newWSServer(t)
	r := New(Config{ServerURL: srv.URL})
	r.Start()
	defer r.Stop()
	srv.waitConn(t)

	sink := r.Sink(progress.SinkFunc(func(err error, p progress.GlobalProgression) bool {
		return false
	}))
	if sink.Progress(nil, progress.GlobalProgression{}) {
		t.Fatal("inner sink cancellation ignored")
	}
}

func TestReporterFinish(t *testing.T) {
	srv := newWSServer(t)
	r := New(Config{ServerURL: srv.URL, Workspace: "/opt/app"})
	r.Start()
	defer r.Stop()

	conn := srv.waitConn(t)
	defer conn.Close()

	r.Finish(nil, progress.GlobalProgression{})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "done" {
		t.Fatalf("event type = %q", ev.Type)
	}
}
