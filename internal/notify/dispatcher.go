package notify

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/susu3304/tipbot/internal/ledger"
)

const (
	defaultParallelism     = 4
	defaultAttemptTimeout  = 12 * time.Second
	defaultDispatchTimeout = 2 * time.Minute
	maxAttempts            = 2
)

// Report summarizes one dispatch.
type Report struct {
	Public   bool
	DMSent   int
	DMFailed int
}

// Dispatcher fans a settlement out to its recipients. Delivery is best
// effort: nothing it does can undo or fail the settlement.
type Dispatcher struct {
	prefs     PreferenceStore
	messenger Messenger
	logger    *zap.Logger
	ticker    string

	parallelism     int
	attemptTimeout  time.Duration
	dispatchTimeout time.Duration
	backoff         func() time.Duration

	wg sync.WaitGroup
}

type Option func(*Dispatcher)

func WithLogger(l *zap.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// WithParallelism bounds concurrent direct messages per dispatch.
func WithParallelism(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.parallelism = n
		}
	}
}

func WithAttemptTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.attemptTimeout = t }
}

func WithBackoff(f func() time.Duration) Option {
	return func(d *Dispatcher) { d.backoff = f }
}

func NewDispatcher(prefs PreferenceStore, messenger Messenger, ticker string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		prefs:           prefs,
		messenger:       messenger,
		logger:          zap.NewNop(),
		ticker:          ticker,
		parallelism:     defaultParallelism,
		attemptTimeout:  defaultAttemptTimeout,
		dispatchTimeout: defaultDispatchTimeout,
		backoff: func() time.Duration {
			return time.Duration(300+rand.Intn(500)) * time.Millisecond
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchAsync runs Dispatch in the background on a context detached from
// the caller, so an expiring interaction does not cut delivery short.
func (d *Dispatcher) DispatchAsync(s *ledger.Settlement, channelID string) {
	if s == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.dispatchTimeout)
		defer cancel()
		d.Dispatch(ctx, s, channelID)
	}()
}

// Wait blocks until every DispatchAsync call has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) Dispatch(ctx context.Context, s *ledger.Settlement, channelID string) Report {
	var report Report
	log := d.logger.With(zap.String("event_id", s.EventID.String()), zap.String("kind", string(s.Kind)))

	prefs, err := d.prefs.NotificationPreferences(ctx, s.Destinations)
	if err != nil {
		log.Warn("load notification preferences, using defaults", zap.Error(err))
		prefs = nil
	}

	var ping, direct []string
	named := make(map[string]struct{}, maxListed)
	for _, id := range listed(s.Destinations) {
		named[id] = struct{}{}
	}
	for _, id := range s.Destinations {
		plan := Plan(prefs[id])
		if _, ok := named[id]; ok && plan.Mention {
			ping = append(ping, id)
		}
		if plan.Direct {
			direct = append(direct, id)
		}
	}

	if channelID != "" {
		err := d.sendWithRetry(ctx, func(ctx context.Context) error {
			return d.messenger.SendChannelMessage(ctx, channelID, publicMessage(s, d.ticker), ping)
		})
		report.Public = err == nil
		d.count("public", err)
		if err != nil {
			log.Warn("send public tip notice", zap.String("channel_id", channelID), zap.Error(err))
		}
	}

	if len(direct) == 0 {
		return report
	}

	content := directMessage(s, d.ticker)
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallelism)
	for _, id := range direct {
		id := id
		g.Go(func() error {
			err := d.sendWithRetry(gctx, func(ctx context.Context) error {
				return d.messenger.SendDirectMessage(ctx, id, content)
			})
			d.count("dm", err)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.DMFailed++
				log.Warn("send tip direct message", zap.String("user_id", id), zap.Error(err))
				return nil
			}
			report.DMSent++
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func (d *Dispatcher) count(channel string, err error) {
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	notificationsTotal.WithLabelValues(channel, outcome).Inc()
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, send func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
		err := send(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTemporaryOrTimeout(err) || attempt == maxAttempts {
			return err
		}
		select {
		case <-time.After(d.backoff()):
		case <-ctx.Done():
			return lastErr
		}
	}
	return lastErr
}

func isTemporaryOrTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		code := restErr.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
