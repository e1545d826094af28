package validators

import (
	"cmp"
	"context"
	"log/slog"
	"slices"

	"eth2ValidatorNode/db"
	"eth2ValidatorNode/eth1"
	"eth2ValidatorNode/wallet"
)

type AccountLister interface {
	ListValidatorAccounts(ctx context.Context) ([]wallet.Account, error)
}

type DepositEventSource interface {
	DepositEvents(pubkey string) ([]eth1.DepositEvent, error)
}

type MetricsSource interface {
	Metrics(pubkey string) (*Metrics, error)
}

type BackfillRequester interface {
	RequestBackfill()
}

// StoreSource reads deposit events and metrics from the store
type StoreSource struct {
	events  *db.Collection[map[string]eth1.DepositEvent]
	metrics *db.Collection[Metrics]
}

func NewStoreSource(store *db.Store) *StoreSource {
	return &StoreSource{
		events:  db.NewCollection[map[string]eth1.DepositEvent](store, db.DepositEventsNamespace),
		metrics: db.NewCollection[Metrics](store, db.CurrentMetricsNamespace),
	}
}

// DepositEvents returns the events of pubkey ordered by block and log
func (s *StoreSource) DepositEvents(pubkey string) ([]eth1.DepositEvent, error) {
	byID, _, err := s.events.Get(pubkey)
	if err != nil {
		return nil, err
	}

	events := make([]eth1.DepositEvent, 0, len(byID))
	for _, event := range byID {
		events = append(events, event)
	}
	slices.SortFunc(events, func(a, b eth1.DepositEvent) int {
		return cmp.Or(
			cmp.Compare(blockNumber(a), blockNumber(b)),
			cmp.Compare(a.TransactionHash, b.TransactionHash),
			cmp.Compare(a.LogIndex, b.LogIndex),
		)
	})
	return events, nil
}

// Metrics returns nil if nothing was reported for pubkey
func (s *StoreSource) Metrics(pubkey string) (*Metrics, error) {
	metrics, found, err := s.metrics.Get(pubkey)
	if err != nil || !found {
		return nil, err
	}
	return &metrics, nil
}

func blockNumber(event eth1.DepositEvent) uint64 {
	if event.BlockNumber == nil {
		return 0
	}
	return *event.BlockNumber
}

type Reconciler struct {
	accounts AccountLister
	events   DepositEventSource
	metrics  MetricsSource
	backfill BackfillRequester
	logger   *slog.Logger
}

func NewReconciler(accounts AccountLister, events DepositEventSource, metrics MetricsSource, backfill BackfillRequester, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		accounts: accounts,
		events:   events,
		metrics:  metrics,
		backfill: backfill,
		logger:   logger.With("module", "validators"),
	}
}

// ListAll returns the stats of every validator account with deposits or a status, ordered by index.
// It also asks the indexer to catch up without waiting for it.
func (r *Reconciler) ListAll(ctx context.Context) ([]ValidatorStats, error) {
	r.backfill.RequestBackfill()

	accounts, err := r.accounts.ListValidatorAccounts(ctx)
	if err != nil {
		return nil, err
	}

	validators := []ValidatorStats{}
	for _, account := range accounts {
		var events []eth1.DepositEvent
		var metrics *Metrics
		if account.PublicKey != nil {
			pubkey := account.PublicKey.HexWithPrefix()
			events, err = r.events.DepositEvents(pubkey)
			if err != nil {
				return nil, err
			}
			metrics, err = r.metrics.Metrics(pubkey)
			if err != nil {
				return nil, err
			}
		} else {
			r.logger.Warn("validator account has no public key", slog.String("account", account.ID()))
		}

		stats, err := Reconcile(account, events, metrics)
		if err != nil {
			return nil, err
		}
		if stats.Visible() {
			validators = append(validators, stats)
		}
	}

	slices.SortStableFunc(validators, func(a, b ValidatorStats) int {
		return cmp.Compare(a.Index, b.Index)
	})
	return validators, nil
}
