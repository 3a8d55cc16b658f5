// Package analytics stores the event stream of every game for later study.
package analytics

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/nightfall-backend/internal/engine"
)

const (
	batchSize     = 64
	flushInterval = time.Second
)

// EventRecord is one row per game event.
type EventRecord struct {
	ID          uint   `gorm:"primaryKey"`
	GameCode    string `gorm:"size:16;index"`
	Phase       string `gorm:"size:32"`
	Type        string `gorm:"size:32;index"`
	Round       int
	Participant string `gorm:"size:64"`
	Target      string `gorm:"size:64"`
	Role        string `gorm:"size:32"`
	Cause       string `gorm:"size:32"`
	Outcome     string `gorm:"size:32"`
	Winner      string `gorm:"size:16"`
	Text        string
	// Private events were addressed to part of the table only.
	Private   bool
	CreatedAt time.Time
}

func toRecord(code string, phase engine.Phase, evt engine.Event, at time.Time) EventRecord {
	return EventRecord{
		GameCode:    code,
		Phase:       string(phase),
		Type:        string(evt.Type),
		Round:       evt.Round,
		Participant: evt.Participant,
		Target:      evt.Target,
		Role:        string(evt.Role),
		Cause:       string(evt.Cause),
		Outcome:     evt.Outcome,
		Winner:      string(evt.Winner),
		Text:        evt.Text,
		Private:     evt.Audience != nil,
		CreatedAt:   at,
	}
}

// Recorder buffers events and writes them in batches off the lobby
// goroutines. Record never blocks; a full buffer drops the event.
type Recorder struct {
	write func([]EventRecord) error
	close func() error
	log   *zap.Logger

	queue chan EventRecord
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once

	mu      sync.Mutex
	lastErr error
	dropped int
}

// Open connects to Postgres and migrates the event table.
func Open(dsn string, log *zap.Logger) (*Recorder, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open analytics db: %w", err)
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("migrate analytics db: %w", err)
	}
	return New(db, log, 4096), nil
}

func New(db *gorm.DB, log *zap.Logger, buffer int) *Recorder {
	write := func(rows []EventRecord) error {
		return db.CreateInBatches(rows, batchSize).Error
	}
	closeDB := func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return newRecorder(write, closeDB, log, buffer)
}

func newRecorder(write func([]EventRecord) error, closeFn func() error, log *zap.Logger, buffer int) *Recorder {
	r := &Recorder{
		write: write,
		close: closeFn,
		log:   log.Named("analytics"),
		queue: make(chan EventRecord, buffer),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) Record(code string, phase engine.Phase, evt engine.Event) {
	select {
	case <-r.stop:
		return
	default:
	}
	rec := toRecord(code, phase, evt, time.Now())
	select {
	case r.queue <- rec:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]EventRecord, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.write(batch); err != nil {
			r.log.Warn("write events", zap.Int("count", len(batch)), zap.Error(err))
			r.mu.Lock()
			r.lastErr = err
			r.mu.Unlock()
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-r.queue:
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.stop:
			for {
				select {
				case rec := <-r.queue:
					batch = append(batch, rec)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Dropped is the number of events lost to a full buffer.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close drains the buffer and releases the database. It returns the last
// write failure together with any close failure.
func (r *Recorder) Close() error {
	var err error
	r.once.Do(func() {
		close(r.stop)
		<-r.done
		r.mu.Lock()
		err = r.lastErr
		r.mu.Unlock()
		if r.close != nil {
			err = multierr.Append(err, r.close())
		}
		if n := r.Dropped(); n > 0 {
			r.log.Info("events dropped", zap.Int("count", n))
		}
	})
	return err
}
