package estimate

import (
	"context"
	"errors"
	"log"
	"math"
	"strings"
	"time"

	"qms/queue-service/internal/metrics"
	"qms/queue-service/internal/models"
	"qms/queue-service/internal/store"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultWaitSeconds    = 0
	DefaultServiceSeconds = 300

	defaultHistoryDays = 30
	defaultSampleLimit = 500
	defaultCacheSize   = 1024
	defaultCacheTTL    = time.Minute
)

var errInsufficientData = errors.New("insufficient estimation data")

type Store interface {
	store.StatsStore
	GetService(ctx context.Context, tenantID, serviceID string) (models.Service, error)
}

type Options struct {
	HistoryDays int
	SampleLimit int
	CacheSize   int
	CacheTTL    time.Duration
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Estimator never fails: missing history or a store error turns into a
// low-confidence estimate built from fallback constants.
type Estimator struct {
	store   Store
	cache   *expirable.LRU[string, store.History]
	window  time.Duration
	limit   int
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(st Store, opts Options) *Estimator {
	days := opts.HistoryDays
	if days <= 0 {
		days = defaultHistoryDays
	}
	limit := opts.SampleLimit
	if limit <= 0 {
		limit = defaultSampleLimit
	}
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Estimator{
		store:   st,
		cache:   expirable.NewLRU[string, store.History](size, nil, ttl),
		window:  time.Duration(days) * 24 * time.Hour,
		limit:   limit,
		metrics: opts.Metrics,
		now:     now,
	}
}

type averages struct {
	wait     float64
	service  float64
	samples  int
	degraded bool
}

func (e *Estimator) ForNewArrival(ctx context.Context, tenantID, branchID, serviceID string) models.Estimate {
	avg := e.averages(ctx, tenantID, branchID, serviceID)

	waiting, err := e.store.CountWaiting(ctx, tenantID, branchID, serviceID)
	if err != nil {
		log.Printf("estimate waiting count error service=%s: %v", serviceID, err)
		avg.degraded = true
		waiting = 0
	}
	agents := e.activeAgents(ctx, tenantID, branchID, serviceID, &avg)

	estimate := models.Estimate{
		WaitingCount:     waiting,
		EstimatedMinutes: Minutes(avg.wait, avg.service, waiting, agents),
		ActiveAgents:     agents,
		Confidence:       confidence(avg),
		SampleSize:       avg.samples,
		Degraded:         avg.degraded,
	}
	e.metrics.Estimate(estimate.Confidence)
	return estimate
}

// ForTicket ranks a waiting ticket within its service queue. Tickets that
// are no longer waiting get position 0.
func (e *Estimator) ForTicket(ctx context.Context, ticket models.Ticket) models.Estimate {
	avg := e.averages(ctx, ticket.TenantID, ticket.BranchID, ticket.ServiceID)
	agents := e.activeAgents(ctx, ticket.TenantID, ticket.BranchID, ticket.ServiceID, &avg)

	estimate := models.Estimate{
		TicketID:     ticket.TicketID,
		ActiveAgents: agents,
		SampleSize:   avg.samples,
	}
	if ticket.Status == models.StatusWaiting {
		ahead, err := e.store.CountWaitingAhead(ctx, ticket)
		if err != nil {
			log.Printf("estimate position error ticket=%s: %v", ticket.TicketID, err)
			avg.degraded = true
			ahead = 0
		}
		estimate.WaitingCount = ahead
		estimate.Position = ahead + 1
		estimate.EstimatedMinutes = Minutes(avg.wait, avg.service, estimate.Position, agents)
	}
	estimate.Confidence = confidence(avg)
	estimate.Degraded = avg.degraded
	e.metrics.Estimate(estimate.Confidence)
	return estimate
}

func (e *Estimator) activeAgents(ctx context.Context, tenantID, branchID, serviceID string, avg *averages) int {
	agents, err := e.store.CountActiveStations(ctx, tenantID, branchID, serviceID)
	if err != nil {
		log.Printf("estimate active agents error service=%s: %v", serviceID, err)
		avg.degraded = true
		return 0
	}
	return agents
}

func (e *Estimator) averages(ctx context.Context, tenantID, branchID, serviceID string) averages {
	history, err := e.history(ctx, tenantID, branchID, serviceID)
	if err == nil {
		return averages{wait: history.AvgWaitSeconds, service: history.AvgServiceSeconds, samples: history.Samples}
	}

	avg := averages{wait: DefaultWaitSeconds, service: DefaultServiceSeconds}
	if !errors.Is(err, errInsufficientData) {
		log.Printf("estimate history error service=%s: %v", serviceID, err)
		avg.degraded = true
		return avg
	}
	service, err := e.store.GetService(ctx, tenantID, serviceID)
	if err != nil {
		if !errors.Is(err, store.ErrServiceNotFound) {
			log.Printf("estimate service prior error service=%s: %v", serviceID, err)
			avg.degraded = true
		}
		return avg
	}
	if service.AvgDurationMinutes > 0 {
		avg.service = float64(service.AvgDurationMinutes * 60)
	}
	return avg
}

func (e *Estimator) history(ctx context.Context, tenantID, branchID, serviceID string) (store.History, error) {
	cacheKey := strings.Join([]string{tenantID, branchID, serviceID}, "/")
	history, ok := e.cache.Get(cacheKey)
	if !ok {
		var err error
		history, err = e.store.ServiceHistory(ctx, tenantID, branchID, serviceID, e.now().Add(-e.window), e.limit)
		if err != nil {
			return store.History{}, err
		}
		e.cache.Add(cacheKey, history)
	}
	if history.Samples == 0 {
		return history, errInsufficientData
	}
	return history, nil
}

// Invalidate drops the cached aggregate for one queue.
func (e *Estimator) Invalidate(tenantID, branchID, serviceID string) {
	e.cache.Remove(strings.Join([]string{tenantID, branchID, serviceID}, "/"))
}

// Minutes applies ceil((avgWait + avgService) * count / max(agents, 1) / 60).
func Minutes(avgWaitSeconds, avgServiceSeconds float64, count, agents int) int {
	if count <= 0 {
		return 0
	}
	if agents < 1 {
		agents = 1
	}
	return int(math.Ceil((avgWaitSeconds + avgServiceSeconds) * float64(count) / float64(agents) / 60))
}

func Confidence(samples int) string {
	switch {
	case samples >= 10:
		return models.ConfidenceHigh
	case samples >= 3:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

func confidence(avg averages) string {
	if avg.degraded {
		return models.ConfidenceLow
	}
	return Confidence(avg.samples)
}
