// Package agent connects the game to its language-model participants.
//
// Each agent is a mailbox goroutine. Request is the only blocking call and
// an agent may have at most one request in flight; Inform and Announce
// only enqueue and never wait on the agent or the generator.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/nightfall-backend/internal/llm"
)

var ErrRequestOutstanding = errors.New("agent already has an outstanding request")
var ErrUnknownAgent = errors.New("unknown agent")
var ErrAlreadyRegistered = errors.New("agent already registered")
var ErrRetired = errors.New("agent no longer in play")
var ErrClosed = errors.New("agent protocol closed")

type Kind string

const (
	KindSpeech  Kind = "speech"
	KindVote    Kind = "vote"
	KindNight   Kind = "night_action"
	KindCouncil Kind = "council"
)

type Profile struct {
	ID    string
	Name  string
	Model string
}

// Briefing is durable role knowledge. Teammates are display names.
type Briefing struct {
	Role         string
	Team         string
	WinCondition string
	Teammates    []string
}

type Snapshot struct {
	Phase      string
	Round      int
	Living     []string
	Eliminated []string
}

// Update carries durable state; nil fields leave the agent's copy untouched.
type Update struct {
	Briefing *Briefing
	Snapshot *Snapshot
}

// Notice is something the agent should know about next time it is asked.
// Text must already use display names only.
type Notice struct {
	Round int
	Text  string
}

type Request struct {
	Kind        Kind
	Instruction string
	// Targets are the legal display names for vote and night requests.
	Targets []string
}

type Reply struct {
	Text    string
	Tokens  int
	Elapsed time.Duration
}

type Options struct {
	MaxTokens   int
	Temperature float64
	MemoryLines int
	InboxSize   int
}

type Protocol struct {
	gen  llm.Generator
	opts Options
	log  *zap.Logger

	mu    sync.RWMutex
	boxes map[string]*mailbox

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(parent context.Context, gen llm.Generator, opts Options, log *zap.Logger) *Protocol {
	if opts.InboxSize <= 0 {
		opts.InboxSize = 256
	}
	if opts.MemoryLines <= 0 {
		opts.MemoryLines = 40
	}
	ctx, cancel := context.WithCancel(parent)
	return &Protocol{
		gen:    gen,
		opts:   opts,
		log:    log.Named("agent"),
		boxes:  make(map[string]*mailbox),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register starts a mailbox for profile.
func (p *Protocol) Register(profile Profile) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx.Err() != nil {
		return ErrClosed
	}
	if _, ok := p.boxes[profile.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, profile.ID)
	}
	box := newMailbox(profile, p)
	p.boxes[profile.ID] = box

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		box.loop(p.ctx)
	}()
	return nil
}

// Retire stops an eliminated agent from receiving requests or broadcasts.
func (p *Protocol) Retire(id string) {
	if box := p.box(id); box != nil {
		box.retired.Store(true)
	}
}

func (p *Protocol) box(id string) *mailbox {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.boxes[id]
}

// Request asks agent id to act and blocks until it answers, fails, or ctx
// ends. A second Request for the same agent while one is outstanding fails
// at once with ErrRequestOutstanding.
func (p *Protocol) Request(ctx context.Context, id string, req Request) (Reply, error) {
	box := p.box(id)
	if box == nil {
		return Reply{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	if box.retired.Load() {
		return Reply{}, ErrRetired
	}

	reply := make(chan askResult, 1)
	select {
	case box.inbox <- askMsg{ctx: ctx, req: req, reply: reply}:
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	case <-p.ctx.Done():
		return Reply{}, ErrClosed
	}

	select {
	case res := <-reply:
		return res.reply, res.err
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	case <-p.ctx.Done():
		return Reply{}, ErrClosed
	}
}

// Inform replaces durable state held by agent id.
func (p *Protocol) Inform(id string, u Update) {
	box := p.box(id)
	if box == nil {
		return
	}
	box.offer(informMsg{update: u})
}

// Announce delivers n to the listed agents, or to every agent still in
// play when to is empty.
func (p *Protocol) Announce(n Notice, to ...string) {
	var boxes []*mailbox
	p.mu.RLock()
	if len(to) == 0 {
		for _, box := range p.boxes {
			boxes = append(boxes, box)
		}
	} else {
		for _, id := range to {
			if box, ok := p.boxes[id]; ok {
				boxes = append(boxes, box)
			}
		}
	}
	p.mu.RUnlock()

	for _, box := range boxes {
		if box.retired.Load() {
			continue
		}
		box.offer(noticeMsg{notice: n})
	}
}

// Close stops every mailbox and waits for them to exit. Outstanding
// requests return ErrClosed.
func (p *Protocol) Close() {
	p.cancel()
	p.wg.Wait()
}
