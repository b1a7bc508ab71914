package command

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/locagent/internal/channel"
	"nuha.dev/locagent/internal/session"
)

type fakePipe struct {
	startOK  bool
	starts   int
	stops    int
	sharing  bool
}

func (f *fakePipe) StartSharing() bool {
	f.starts++
	if f.startOK {
		f.sharing = true
	}
	return f.startOK
}

func (f *fakePipe) StopSharing() {
	f.stops++
	f.sharing = false
}

type fakeReplier struct {
	replies []channel.StatusReply
}

func (f *fakeReplier) Send(v interface{}) error {
	f.replies = append(f.replies, v.(channel.StatusReply))
	return nil
}

func newProcessor(t *testing.T) (*Processor, *fakePipe, *fakeReplier, session.Store) {
	t.Helper()
	pipe := &fakePipe{startOK: true}
	rep := &fakeReplier{}
	st := session.NewFileStore(filepath.Join(t.TempDir(), "s.json"), log.DefaultLogger)
	return NewProcessor(pipe, st, rep, log.DefaultLogger), pipe, rep, st
}

func rid(s string) *string { return &s }

func TestStartSharingIdempotent(t *testing.T) {
	p, pipe, rep, st := newProcessor(t)

	p.Handle(channel.Command{Name: channel.CmdStartSharing, RequestID: rid("a")})
	p.Handle(channel.Command{Name: channel.CmdStartSharing, RequestID: rid("b")})

	if pipe.starts != 1 {
		t.Fatalf("pipeline started %d times, want 1", pipe.starts)
	}
	if len(rep.replies) != 2 {
		t.Fatalf("replies = %d, want 2", len(rep.replies))
	}
	for i, r := range rep.replies {
		if !r.IsSharing || r.Status != StatusSharing {
			t.Errorf("reply %d: %+v", i, r)
		}
	}
	if *rep.replies[0].RequestID != "a" || *rep.replies[1].RequestID != "b" {
		t.Error("request ids not correlated")
	}
	persisted, _ := st.Load()
	if !persisted.Active || persisted.StartedAt == nil {
		t.Error("session not persisted")
	}
}

func TestStopSharing(t *testing.T) {
	p, pipe, rep, st := newProcessor(t)
	p.Handle(channel.Command{Name: channel.CmdStartSharing})
	p.Handle(channel.Command{Name: channel.CmdStopSharing, RequestID: rid("s")})

	if pipe.stops != 1 {
		t.Fatalf("pipeline stopped %d times, want 1", pipe.stops)
	}
	last := rep.replies[len(rep.replies)-1]
	if last.IsSharing || last.Status != StatusIdle || *last.RequestID != "s" {
		t.Errorf("bad stop reply %+v", last)
	}
	persisted, _ := st.Load()
	if persisted.Active || persisted.StartedAt != nil {
		t.Error("inactive session not persisted")
	}

	// stop while idle replies but touches nothing
	p.Handle(channel.Command{Name: channel.CmdStopSharing})
	if pipe.stops != 1 {
		t.Error("idempotent stop reached the pipeline")
	}
}

func TestStartFailure(t *testing.T) {
	p, pipe, rep, _ := newProcessor(t)
	pipe.startOK = false

	p.Handle(channel.Command{Name: channel.CmdStartSharing})
	if p.Sharing() {
		t.Error("session active after failed start")
	}
	r := rep.replies[0]
	if r.IsSharing || r.Status != StatusStartFailed {
		t.Errorf("bad failure reply %+v", r)
	}
}

func TestGetStatus(t *testing.T) {
	p, _, rep, _ := newProcessor(t)
	p.Handle(channel.Command{Name: channel.CmdGetStatus, RequestID: rid("q")})
	r := rep.replies[0]
	if r.IsSharing || r.Status != StatusIdle || *r.RequestID != "q" {
		t.Errorf("bad status reply %+v", r)
	}

	p.Handle(channel.Command{Name: channel.CmdStartSharing})
	p.Handle(channel.Command{Name: channel.CmdGetStatus})
	r = rep.replies[len(rep.replies)-1]
	if !r.IsSharing || r.Status != StatusSharing {
		t.Errorf("bad status reply %+v", r)
	}
}

func TestUnknownCommandNoReply(t *testing.T) {
	p, _, rep, _ := newProcessor(t)
	p.Handle(channel.Command{Name: "reboot"})
	if len(rep.replies) != 0 {
		t.Error("unknown command answered")
	}
}

func TestStopLocal(t *testing.T) {
	p, pipe, rep, _ := newProcessor(t)
	p.Handle(channel.Command{Name: channel.CmdStartSharing})
	n := len(rep.replies)

	p.StopLocal("watchdog timeout")
	if p.Sharing() || pipe.stops != 1 {
		t.Error("local stop did not stop the pipeline")
	}
	if len(rep.replies) != n {
		t.Error("local stop sent a reply")
	}
	p.StopLocal("again") // no-op while idle
	if pipe.stops != 1 {
		t.Error("local stop while idle reached the pipeline")
	}
}

func TestRestore(t *testing.T) {
	p, pipe, _, _ := newProcessor(t)
	started := time.Now().Add(-time.Minute)
	p.Restore(session.Session{Active: true, StartedAt: &started})
	if !p.Sharing() || pipe.starts != 1 {
		t.Error("session not restored")
	}
}

func TestRestoreWithoutStartedAt(t *testing.T) {
	p, pipe, _, _ := newProcessor(t)
	p.Restore(session.Session{Active: true})
	if !p.Sharing() || pipe.starts != 1 {
		t.Error("session without start time not restored")
	}
}
