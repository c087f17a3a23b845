// Package capacity aggregates replication capacity across a target account
// and its staging accounts into a single health view. One slow or failing
// account never blocks the rest; its contribution degrades to a warning.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"recoveryd/services/drs"
	"recoveryd/services/planstore"
)

// DefaultCeiling is the per-account replicating-server quota assumed when
// none is configured.
const DefaultCeiling = 300

// Classification buckets for percent-used thresholds.
const (
	StatusOK            = "OK"
	StatusWarning       = "WARNING"
	StatusCritical      = "CRITICAL"
	StatusHyperCritical = "HYPERCRITICAL"
)

const (
	warningThreshold  = 70.0
	criticalThreshold = 85.0
	hyperThreshold    = 95.0
)

var metricAccountQueryFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "recoveryd_capacity_account_failures_total",
	Help: "Per-account capacity queries that failed and were downgraded to warnings.",
})

// RegionCapacity is one region's share of an account snapshot.
type RegionCapacity struct {
	Region      string `json:"region"`
	Replicating int    `json:"replicating"`
	Total       int    `json:"total"`
}

// AccountSnapshot is a point-in-time capacity read for one account.
type AccountSnapshot struct {
	AccountID   string           `json:"account_id"`
	Role        string           `json:"role"` // target | staging
	Replicating int              `json:"replicating"`
	Total       int              `json:"total"`
	Ceiling     int              `json:"ceiling"`
	PercentUsed float64          `json:"percent_used"`
	Status      string           `json:"status"`
	Regions     []RegionCapacity `json:"regions,omitempty"`
	Err         string           `json:"error,omitempty"`
}

// CombinedView merges the target account with its staging accounts.
type CombinedView struct {
	TargetAccountID string            `json:"target_account_id"`
	Replicating     int               `json:"replicating"`
	Total           int               `json:"total"`
	Ceiling         int               `json:"ceiling"`
	PercentUsed     float64           `json:"percent_used"`
	Status          string            `json:"status"`
	Accounts        []AccountSnapshot `json:"accounts"`
	Warnings        []string          `json:"warnings,omitempty"`
}

// AccountSource resolves an account's configuration.
type AccountSource interface {
	Account(id string) (planstore.Account, error)
}

// Aggregator fans capacity queries out per account and merges the results.
type Aggregator struct {
	accounts AccountSource
	clients  drs.Factory
	ceiling  int
	log      zerolog.Logger
}

// New constructs an Aggregator. ceiling <= 0 selects DefaultCeiling.
func New(accounts AccountSource, clients drs.Factory, ceiling int, log zerolog.Logger) (*Aggregator, error) {
	if accounts == nil {
		return nil, errors.New("account source is required")
	}
	if clients == nil {
		return nil, errors.New("client factory is required")
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Aggregator{accounts: accounts, clients: clients, ceiling: ceiling, log: log}, nil
}

// Combined queries the target account and each configured staging account
// concurrently and merges the snapshots. Individual account failures are
// recorded as warnings with zero contribution; the merge is commutative so
// arrival order never matters.
func (a *Aggregator) Combined(ctx context.Context, targetAccountID string) (*CombinedView, error) {
	target, err := a.accounts.Account(targetAccountID)
	if err != nil {
		return nil, err
	}

	type task struct {
		account planstore.Account
		role    string
	}
	tasks := []task{{account: target, role: "target"}}
	for _, stagingID := range target.StagingAccounts {
		account, err := a.accounts.Account(stagingID)
		if err != nil {
			// Unconfigured staging account: still queryable by id alone.
			account = planstore.Account{ID: stagingID, Regions: target.Regions}
		}
		tasks = append(tasks, task{account: account, role: "staging"})
	}

	snapshots := make([]AccountSnapshot, len(tasks))
	var group errgroup.Group
	for i, t := range tasks {
		group.Go(func() error {
			snapshots[i] = a.snapshot(ctx, t.account, t.role)
			return nil
		})
	}
	_ = group.Wait()

	view := &CombinedView{TargetAccountID: targetAccountID, Accounts: snapshots}
	for _, snap := range snapshots {
		if snap.Err != "" {
			view.Warnings = append(view.Warnings, fmt.Sprintf("account %s: %s", snap.AccountID, snap.Err))
			continue
		}
		view.Replicating += snap.Replicating
		view.Total += snap.Total
		view.Ceiling += snap.Ceiling
	}
	sort.Strings(view.Warnings)

	view.PercentUsed = percentUsed(view.Replicating, view.Ceiling)
	view.Status = Classify(view.PercentUsed)
	return view, nil
}

// snapshot reads one account across its configured regions. A region
// failure fails the whole account snapshot; cross-account isolation is what
// matters, not cross-region.
func (a *Aggregator) snapshot(ctx context.Context, account planstore.Account, role string) AccountSnapshot {
	snap := AccountSnapshot{AccountID: account.ID, Role: role, Ceiling: a.ceiling}

	regions := account.Regions
	if len(regions) == 0 {
		snap.Err = "no regions configured"
		metricAccountQueryFailures.Inc()
		return snap
	}

	var mu sync.Mutex
	group, gctx := errgroup.WithContext(ctx)
	for _, region := range regions {
		group.Go(func() error {
			client, err := a.clients(gctx, account.ID, account.RoleARN, region)
			if err != nil {
				return fmt.Errorf("region %s: %w", region, err)
			}
			servers, err := client.ListSourceServers(gctx)
			if err != nil {
				return fmt.Errorf("region %s: %w", region, err)
			}

			rc := RegionCapacity{Region: region, Total: len(servers)}
			for _, server := range servers {
				if server.Replicating {
					rc.Replicating++
				}
			}

			mu.Lock()
			snap.Regions = append(snap.Regions, rc)
			snap.Replicating += rc.Replicating
			snap.Total += rc.Total
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		a.log.Warn().Err(err).Str("account", account.ID).Msg("capacity query failed")
		metricAccountQueryFailures.Inc()
		return AccountSnapshot{AccountID: account.ID, Role: role, Ceiling: a.ceiling, Err: err.Error()}
	}

	sort.Slice(snap.Regions, func(i, j int) bool { return snap.Regions[i].Region < snap.Regions[j].Region })
	snap.PercentUsed = percentUsed(snap.Replicating, snap.Ceiling)
	snap.Status = Classify(snap.PercentUsed)
	return snap
}

// Classify maps percent-used to a status bucket.
func Classify(percent float64) string {
	switch {
	case percent >= hyperThreshold:
		return StatusHyperCritical
	case percent >= criticalThreshold:
		return StatusCritical
	case percent >= warningThreshold:
		return StatusWarning
	default:
		return StatusOK
	}
}

func percentUsed(used, ceiling int) float64 {
	if ceiling <= 0 {
		return 0
	}
	return float64(used) / float64(ceiling) * 100
}
