package agent

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/nightfall-backend/internal/llm"
)

type message interface{ isMailboxMsg() }

type informMsg struct{ update Update }

func (informMsg) isMailboxMsg() {}

type noticeMsg struct{ notice Notice }

func (noticeMsg) isMailboxMsg() {}

type askMsg struct {
	ctx   context.Context
	req   Request
	reply chan askResult
}

func (askMsg) isMailboxMsg() {}

type doneMsg struct {
	kind Kind
	text string
	err  error
}

func (doneMsg) isMailboxMsg() {}

type askResult struct {
	reply Reply
	err   error
}

type mailbox struct {
	profile Profile
	inbox   chan message
	retired atomic.Bool
	proto   *Protocol
	log     *zap.Logger

	// Owned by loop.
	briefing Briefing
	snapshot Snapshot
	memory   []string
	busy     bool
}

func newMailbox(profile Profile, p *Protocol) *mailbox {
	return &mailbox{
		profile: profile,
		inbox:   make(chan message, p.opts.InboxSize),
		proto:   p,
		log:     p.log.With(zap.String("agent", profile.ID), zap.String("name", profile.Name)),
	}
}

// offer enqueues m without blocking; a full inbox drops it.
func (m *mailbox) offer(in message) {
	select {
	case m.inbox <- in:
	default:
		m.log.Warn("inbox full, dropping message")
	}
}

func (m *mailbox) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case in := <-m.inbox:
			switch msg := in.(type) {
			case informMsg:
				if msg.update.Briefing != nil {
					m.briefing = *msg.update.Briefing
				}
				if msg.update.Snapshot != nil {
					m.snapshot = *msg.update.Snapshot
				}

			case noticeMsg:
				m.remember(msg.notice.Text)

			case askMsg:
				if m.busy {
					msg.reply <- askResult{err: ErrRequestOutstanding}
					break
				}
				m.busy = true
				m.generate(ctx, msg)

			case doneMsg:
				m.busy = false
				if msg.err == nil && (msg.kind == KindSpeech || msg.kind == KindCouncil) {
					m.remember("You said: " + msg.text)
				}
			}
		}
	}
}

func (m *mailbox) remember(line string) {
	m.memory = append(m.memory, line)
	if limit := m.proto.opts.MemoryLines; len(m.memory) > limit {
		m.memory = m.memory[len(m.memory)-limit:]
	}
}

// generate runs the generator off the loop so informs and notices keep
// flowing while the agent thinks.
func (m *mailbox) generate(protoCtx context.Context, ask askMsg) {
	genReq := llm.Request{
		Prompt:      buildPrompt(m.profile, m.briefing, m.snapshot, m.memory, ask.req),
		Model:       m.profile.Model,
		MaxTokens:   m.proto.opts.MaxTokens,
		Temperature: m.proto.opts.Temperature,
		JSON:        true,
	}
	ctx, cancel := context.WithCancel(ask.ctx)
	stop := context.AfterFunc(protoCtx, cancel)

	go func() {
		defer cancel()
		defer stop()

		start := time.Now()
		resp, err := m.proto.gen.Generate(ctx, genReq)
		elapsed := time.Since(start)
		if err != nil {
			m.log.Warn("generation failed", zap.String("kind", string(ask.req.Kind)), zap.Duration("elapsed", elapsed), zap.Error(err))
		}
		ask.reply <- askResult{reply: Reply{Text: resp.Text, Tokens: resp.TokensUsed, Elapsed: elapsed}, err: err}

		select {
		case m.inbox <- doneMsg{kind: ask.req.Kind, text: resp.Text, err: err}:
		case <-protoCtx.Done():
		}
	}()
}
