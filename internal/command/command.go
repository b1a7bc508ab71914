package command

import (
	"sync"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/locagent/internal/channel"
	"nuha.dev/locagent/internal/session"
)

// Pipeline is the telemetry side the processor drives: starting it turns
// the location source on and attaches the filter/queue subscription,
// stopping it detaches and clears the outbound queue.
type Pipeline interface {
	StartSharing() bool
	StopSharing()
}

// Replier sends a reply frame on whatever channel the command arrived on.
type Replier interface {
	Send(v interface{}) error
}

const (
	StatusSharing     = "sharing"
	StatusIdle        = "idle"
	StatusStartFailed = "start_failed"
)

// Processor consumes inbound commands and owns the sharing session: no
// other component mutates session state or toggles the location source.
type Processor struct {
	log     log.Logger
	pipe    Pipeline
	store   session.Store
	replier Replier

	mu   sync.Mutex
	sess session.Session
}

func NewProcessor(pipe Pipeline, store session.Store, replier Replier, logger log.Logger) *Processor {
	o := &Processor{pipe: pipe, store: store, replier: replier}
	o.log = logger
	o.log.Context = log.NewContext(nil).Str("module", "command").Value()
	return o
}

// Restore re-applies a session that survived a restart (already passed the
// staleness check). If the pipeline cannot start, the session is dropped.
func (p *Processor) Restore(s session.Session) {
	if !s.Active {
		return
	}
	if !p.pipe.StartSharing() {
		p.log.Error().Msg("could not resume persisted session")
		p.persist(session.Session{})
		return
	}
	p.mu.Lock()
	p.sess = s
	p.mu.Unlock()
	ev := p.log.Info().Str("event", "session_resumed")
	if s.StartedAt != nil {
		ev = ev.Time("started_at", *s.StartedAt)
	}
	ev.Msg("")
}

func (p *Processor) Session() session.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sess
}

func (p *Processor) Sharing() bool {
	return p.Session().Active
}

func (p *Processor) Handle(cmd channel.Command) {
	switch cmd.Name {
	case channel.CmdStartSharing:
		p.handleStart(cmd)
	case channel.CmdStopSharing:
		p.handleStop(cmd)
	case channel.CmdGetStatus:
		p.reply(cmd, p.statusString())
	default:
		// unknown commands are logged, never answered
		p.log.Warn().Str("event", "unknown_command").Str("command", cmd.Name).Msg("")
	}
}

func (p *Processor) handleStart(cmd channel.Command) {
	if p.Sharing() {
		// idempotent: one active session, reply with current status
		p.reply(cmd, StatusSharing)
		return
	}
	if !p.pipe.StartSharing() {
		p.reply(cmd, StatusStartFailed)
		return
	}
	now := time.Now().UTC()
	s := session.Session{Active: true, StartedAt: &now}
	p.mu.Lock()
	p.sess = s
	p.mu.Unlock()
	p.persist(s)
	p.log.Info().Str("event", "sharing_started").Msg("")
	p.reply(cmd, StatusSharing)
}

func (p *Processor) handleStop(cmd channel.Command) {
	if !p.Sharing() {
		p.reply(cmd, StatusIdle)
		return
	}
	p.stop("stop_sharing command")
	p.reply(cmd, StatusIdle)
}

// StopLocal mirrors stop_sharing for local policy decisions (watchdog
// timeout, user action); no reply is owed to anyone.
func (p *Processor) StopLocal(reason string) {
	if !p.Sharing() {
		return
	}
	p.stop(reason)
}

func (p *Processor) stop(reason string) {
	p.pipe.StopSharing()
	p.mu.Lock()
	p.sess = session.Session{}
	p.mu.Unlock()
	p.persist(session.Session{})
	p.log.Info().Str("event", "sharing_stopped").Str("reason", reason).Msg("")
}

func (p *Processor) statusString() string {
	if p.Sharing() {
		return StatusSharing
	}
	return StatusIdle
}

func (p *Processor) persist(s session.Session) {
	err := p.store.Save(s)
	if err != nil {
		p.log.Error().Err(err).Msg("unable to persist session")
	}
}

func (p *Processor) reply(cmd channel.Command, status string) {
	r := channel.StatusReply{IsSharing: p.Sharing(), Status: status, RequestID: cmd.RequestID}
	err := p.replier.Send(r)
	if err != nil {
		p.log.Warn().Err(err).Str("command", cmd.Name).Msg("unable to send reply")
	}
}
