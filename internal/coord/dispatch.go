package coord

import (
	"context"
	"math/rand/v2"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/nightfall-backend/internal/agent"
	"github.com/DoyleJ11/nightfall-backend/internal/extract"
)

// Requester is the blocking half of the agent protocol.
type Requester interface {
	Request(ctx context.Context, id string, req agent.Request) (agent.Reply, error)
}

type Job struct {
	Participant string
	Request     agent.Request
	Schema      extract.Schema
	// Timeout bounds this participant alone; the phase deadline still wins.
	Timeout time.Duration
	// Delay staggers the launch relative to the start of Run.
	Delay time.Duration
	// Ctx, when set, replaces the scope context as the request's parent.
	Ctx context.Context
}

// Outcome is one participant's answer. Err is set when the request failed
// or timed out; Result then holds the synthesized default.
type Outcome struct {
	Gen         uint64
	Participant string
	Kind        agent.Kind
	Result      extract.Result
	Reply       agent.Reply
	Err         error
}

type Dispatcher struct {
	agents Requester
	chain  *extract.Chain
	limit  int
	log    *zap.Logger
}

func NewDispatcher(agents Requester, chain *extract.Chain, limit int, log *zap.Logger) *Dispatcher {
	if limit <= 0 {
		limit = 4
	}
	return &Dispatcher{agents: agents, chain: chain, limit: limit, log: log.Named("dispatch")}
}

// Run launches jobs in delay order with at most limit requests in flight
// and hands every outcome to deliver. It returns immediately; deliver is
// called from other goroutines and never after scope is closed.
func (d *Dispatcher) Run(scope *Scope, jobs []Job, deliver func(Outcome)) {
	if len(jobs) == 0 {
		return
	}
	ordered := append([]Job(nil), jobs...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Delay < ordered[j].Delay })

	go func() {
		g := new(errgroup.Group)
		g.SetLimit(d.limit)
		start := time.Now()

		for _, job := range ordered {
			if wait := job.Delay - time.Since(start); wait > 0 {
				select {
				case <-time.After(wait):
				case <-scope.Ctx.Done():
				}
			}
			if scope.Done() {
				break
			}
			g.Go(func() error {
				out := d.ask(scope, job)
				if !scope.Done() {
					deliver(out)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// Ask runs one job synchronously.
func (d *Dispatcher) ask(scope *Scope, job Job) Outcome {
	ctx := scope.Ctx
	if job.Ctx != nil {
		ctx = job.Ctx
	}
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	out := Outcome{Gen: scope.Gen, Participant: job.Participant, Kind: job.Request.Kind}
	reply, err := d.agents.Request(ctx, job.Participant, job.Request)
	out.Reply = reply
	if err != nil {
		out.Err = err
		out.Result = d.chain.Default(job.Schema, job.Request.Targets)
		if scope.Done() {
			return out
		}
		d.log.Info("agent fell back to default",
			zap.String("participant", job.Participant),
			zap.String("kind", string(job.Request.Kind)),
			zap.Error(err))
		return out
	}

	out.Result = d.chain.Extract(reply.Text, job.Schema, job.Request.Targets)
	d.log.Debug("agent answered",
		zap.String("participant", job.Participant),
		zap.String("kind", string(job.Request.Kind)),
		zap.Stringer("tier", out.Result.Tier),
		zap.Float64("confidence", out.Result.Confidence),
		zap.Duration("elapsed", reply.Elapsed))
	return out
}

// Stagger returns n independent launch delays in [0, spread).
func Stagger(n int, spread time.Duration, rng *rand.Rand) []time.Duration {
	delays := make([]time.Duration, n)
	if spread <= 0 {
		return delays
	}
	for i := range delays {
		delays[i] = time.Duration(rng.Int64N(int64(spread)))
	}
	return delays
}
