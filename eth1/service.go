package eth1

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/sync/errgroup"

	"eth2ValidatorNode/contracts"
	"eth2ValidatorNode/db"
)

const (
	DefaultBlockRange   uint64 = 1000
	DefaultPollInterval        = time.Minute
	DefaultBackoff             = 5 * time.Second
	DefaultMaxBackoff          = 5 * time.Minute

	backfillCursorKey = "backfill"
)

var (
	ErrProvider       = errors.New("chain provider error")
	ErrAlreadyStarted = errors.New("deposit event service already started")

	// provider messages for log queries spanning too many blocks or results
	rangeTooLargeMessages = []string{
		"query returned more than",
		"413 Request Entity Too Large",
		"limit exceeded",
	}
)

type Option func(*Service)

// WithCreationBlock sets the first block scanned when no events are stored
func WithCreationBlock(block uint64) Option {
	return func(s *Service) {
		s.creationBlock = block
	}
}

// WithBlockRange sets the maximum number of blocks per log query
func WithBlockRange(blocks uint64) Option {
	return func(s *Service) {
		if blocks > 0 {
			s.blockRange = blocks
		}
	}
}

// WithPollInterval sets how often to backfill when the provider cannot push new logs
func WithPollInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// WithBackoff sets the initial and maximum wait between retries
func WithBackoff(initial time.Duration, maxBackoff time.Duration) Option {
	return func(s *Service) {
		if initial > 0 {
			s.backoff = initial
		}
		if maxBackoff >= s.backoff {
			s.maxBackoff = maxBackoff
		}
	}
}

// Service follows the DepositEvent logs of the deposit contract and stores them by validator public key
type Service struct {
	provider Provider
	contract *contracts.DepositContract
	events   *db.Collection[map[string]DepositEvent]
	// next block a backfill has to scan, live logs never move it
	cursor   *db.Collection[uint64]
	logger   *slog.Logger

	creationBlock uint64
	blockRange    uint64
	pollInterval  time.Duration
	backoff       time.Duration
	maxBackoff    time.Duration

	state            atomic.Int32
	backfillLock     sync.Mutex
	backfillRequests chan struct{}

	lock   sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewService(provider Provider, contract *contracts.DepositContract, store *db.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		provider:         provider,
		contract:         contract,
		events:           db.NewCollection[map[string]DepositEvent](store, db.DepositEventsNamespace),
		cursor:           db.NewCollection[uint64](store, db.DepositCursorNamespace),
		logger:           logger.With("module", "eth1"),
		blockRange:       DefaultBlockRange,
		pollInterval:     DefaultPollInterval,
		backoff:          DefaultBackoff,
		maxBackoff:       DefaultMaxBackoff,
		backfillRequests: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) State() State {
	return State(s.state.Load())
}

// Start runs the backfill and subscription loops until ctx is done or Stop is called
func (s *Service) Start(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.group != nil {
		return ErrAlreadyStarted
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)
	s.group.Go(func() error {
		return s.runBackfills(ctx)
	})
	s.group.Go(func() error {
		return s.runSubscription(ctx)
	})
	s.logger.Info("started deposit event service",
		slog.String("depositContract", s.contract.Address().Hex()),
		slog.Uint64("creationBlock", s.creationBlock),
	)
	return nil
}

// Stop cancels the loops and waits for them to return
func (s *Service) Stop() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.group == nil {
		return nil
	}

	s.cancel()
	err := s.group.Wait()
	s.group = nil
	s.logger.Info("stopped deposit event service")
	return err
}

// RequestBackfill asks the running service for another backfill pass. It never blocks,
// requests made while one is pending are coalesced.
func (s *Service) RequestBackfill() {
	select {
	case s.backfillRequests <- struct{}{}:
	default:
	}
}

// ComputeResumeCursor returns the block after the last one a backfill scanned, or the creation
// block if no backfill stored anything yet. Events merged from the subscription do not count,
// blocks between the cursor and a live event may not have been scanned.
func (s *Service) ComputeResumeCursor() (uint64, error) {
	next, found, err := s.cursor.Get(backfillCursorKey)
	if err != nil {
		return 0, errors.Join(errors.New("failed to read backfill cursor"), err)
	}
	if !found || next < s.creationBlock {
		return s.creationBlock, nil
	}
	return next, nil
}

// Backfill fetches and stores all deposit logs from the resume cursor up to the current head
func (s *Service) Backfill(ctx context.Context) error {
	s.backfillLock.Lock()
	defer s.backfillLock.Unlock()

	from, err := s.ComputeResumeCursor()
	if err != nil {
		return err
	}
	head, err := s.provider.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get head block: %w", ErrProvider, err)
	}
	logger := s.logger.With(slog.Uint64("fromBlock", from), slog.Uint64("toBlock", head))
	if from > head {
		logger.Debug("deposit events up to date")
		return nil
	}

	startTime := time.Now()
	blockRange := s.blockRange
	total := 0
	for start := from; start <= head; {
		end := min(start+blockRange-1, head)
		logs, err := s.provider.FilterLogs(ctx, s.contract.FilterQuery(start, &end))
		if err != nil {
			if isRangeTooLarge(err) && end > start {
				blockRange = max((end-start+1)/2, 1)
				logger.Warn("log query too large, reducing block range",
					slog.Uint64("blockRange", blockRange),
					slog.String("error", err.Error()),
				)
				continue
			}
			return fmt.Errorf("%w: failed to get deposit logs for blocks %d-%d: %w", ErrProvider, start, end, err)
		}

		if err := s.merge(logs, &end); err != nil {
			return err
		}
		total += len(logs)
		lastScannedBlock.Set(float64(end))
		start = end + 1
	}

	if total == 0 {
		logger.Info("no new deposit events")
		return nil
	}
	logger.Info("backfilled deposit events",
		slog.Int("logs", total),
		slog.Duration("timeElapsed", time.Since(startTime)),
	)
	return nil
}

// Merge decodes logs and stores them keyed by public key and txHash/logIndex.
// Merging a log again is a no-op. Removed and undecodable logs are skipped.
func (s *Service) Merge(logs []types.Log) error {
	return s.merge(logs, nil)
}

// merge stores logs and, if scannedTo is set, moves the backfill cursor past it in the same batch
func (s *Service) merge(logs []types.Log, scannedTo *uint64) error {
	partial := map[string]map[string]DepositEvent{}
	stored := 0
	for _, log := range logs {
		if log.Removed {
			s.logger.Warn("skipping removed deposit log",
				slog.String("txHash", log.TxHash.Hex()),
				slog.Uint64("blockNumber", log.BlockNumber),
			)
			skippedDepositLogs.WithLabelValues("removed").Inc()
			continue
		}

		decoded, err := s.contract.ParseDepositEvent(log)
		if err != nil {
			s.logger.Error("failed to decode deposit log",
				slog.String("txHash", log.TxHash.Hex()),
				slog.Uint64("blockNumber", log.BlockNumber),
				slog.String("error", err.Error()),
			)
			skippedDepositLogs.WithLabelValues("malformed").Inc()
			continue
		}

		event := newDepositEvent(decoded)
		pubkey := event.Pubkey.String()
		if partial[pubkey] == nil {
			partial[pubkey] = map[string]DepositEvent{}
		}
		partial[pubkey][event.ID()] = event
		stored++
	}
	var err error
	if scannedTo != nil {
		err = db.MergeAllAndSet(s.events, partial, s.cursor, backfillCursorKey, *scannedTo+1)
	} else {
		err = db.MergeAll(s.events, partial)
	}
	if err != nil {
		return errors.Join(errors.New("failed to store deposit events"), err)
	}
	depositLogsMerged.Add(float64(stored))
	return nil
}

// runBackfills retries the first backfill until it succeeds, then serves backfill requests
func (s *Service) runBackfills(ctx context.Context) error {
	s.state.Store(int32(Backfilling))
	backoff := s.backoff
	for {
		err := s.Backfill(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil
		}
		backfillFailures.Inc()
		s.logger.Warn("initial backfill failed",
			slog.String("error", err.Error()),
			slog.Duration("retryIn", backoff),
		)
		if !sleep(ctx, backoff) {
			return nil
		}
		backoff = min(backoff*2, s.maxBackoff)
	}
	s.state.Store(int32(Subscribed))
	s.logger.Info("initial backfill complete")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.backfillRequests:
			if err := s.Backfill(ctx); err != nil && ctx.Err() == nil {
				backfillFailures.Inc()
				s.logger.Warn("backfill failed", slog.String("error", err.Error()))
			}
		}
	}
}

// runSubscription keeps a log subscription open, falling back to polling for providers
// without notification support
func (s *Service) runSubscription(ctx context.Context) error {
	backoff := s.backoff
	for {
		startTime := time.Now()
		err := s.watch(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, rpc.ErrNotificationsUnsupported) {
			s.logger.Info("provider does not support subscriptions, polling for deposit logs",
				slog.Duration("pollInterval", s.pollInterval),
			)
			return s.poll(ctx)
		}

		if time.Since(startTime) > s.maxBackoff {
			backoff = s.backoff
		}
		s.logger.Warn("deposit log subscription dropped",
			slog.String("error", err.Error()),
			slog.Duration("retryIn", backoff),
		)
		if !sleep(ctx, backoff) {
			return nil
		}
		// logs emitted while disconnected
		s.RequestBackfill()
		backoff = min(backoff*2, s.maxBackoff)
	}
}

func (s *Service) watch(ctx context.Context) error {
	logs := make(chan types.Log)
	sub, err := s.provider.SubscribeFilterLogs(ctx, s.contract.WatchQuery(), logs)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	s.logger.Debug("subscribed to deposit logs")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return err
		case log := <-logs:
			if err := s.Merge([]types.Log{log}); err != nil {
				s.logger.Error("failed to merge deposit log",
					slog.String("txHash", log.TxHash.Hex()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (s *Service) poll(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.RequestBackfill()
		}
	}
}

func isRangeTooLarge(err error) bool {
	for _, message := range rangeTooLargeMessages {
		if strings.Contains(err.Error(), message) {
			return true
		}
	}
	return false
}

// sleep returns false if ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
