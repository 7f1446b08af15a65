// Package stats computes platform-wide usage accounting.
package stats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/errgroup"

	"github.com/aliskhannn/image-transformer/internal/model"
	"github.com/aliskhannn/image-transformer/internal/storage/file"
)

// Days is the length of the histogram window.
const Days = 7

// DefaultSizeBatch bounds concurrent size queries.
const DefaultSizeBatch = 10

// repository defines the aggregate queries used by the service.
type repository interface {
	Count(ctx context.Context) (int, error)
	CreatedSince(ctx context.Context, since time.Time) ([]time.Time, error)
	ListKeys(ctx context.Context) ([]string, error)
}

// sizer reports the stored size of an object.
type sizer interface {
	Size(ctx context.Context, key string) (int64, error)
}

// Service computes Stats snapshots.
type Service struct {
	repo  repository
	sizer sizer
	batch int
	loc   *time.Location
	now   func() time.Time
}

// NewService creates a Service. Histogram days are bucketed at local midnight in loc
// (time.Local when nil).
func NewService(repo repository, s sizer, batch int, loc *time.Location) *Service {
	if batch <= 0 {
		batch = DefaultSizeBatch
	}
	if loc == nil {
		loc = time.Local
	}

	return &Service{repo: repo, sizer: s, batch: batch, loc: loc, now: time.Now}
}

// Get returns the current usage statistics.
func (s *Service) Get(ctx context.Context) (model.Stats, error) {
	total, err := s.repo.Count(ctx)
	if err != nil {
		return model.Stats{}, fmt.Errorf("stats: %w", err)
	}

	start := s.windowStart()
	created, err := s.repo.CreatedSince(ctx, start)
	if err != nil {
		return model.Stats{}, fmt.Errorf("stats: %w", err)
	}

	keys, err := s.repo.ListKeys(ctx)
	if err != nil {
		return model.Stats{}, fmt.Errorf("stats: %w", err)
	}

	bytes, err := s.storageBytes(ctx, keys)
	if err != nil {
		return model.Stats{}, fmt.Errorf("stats: %w", err)
	}

	return model.Stats{
		TotalImages:           total,
		Last7DaysCount:        len(created),
		EstimatedStorageBytes: bytes,
		EstimatedStorageMB:    int64(math.Round(float64(bytes) / (1 << 20))),
		EstimatedStorageGB:    fmt.Sprintf("%.2f", float64(bytes)/(1<<30)),
		ChartData:             s.histogram(start, created),
	}, nil
}

// windowStart returns local midnight six days before today.
func (s *Service) windowStart() time.Time {
	now := s.now().In(s.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)

	return today.AddDate(0, 0, -(Days - 1))
}

// histogram buckets creation times per local day, oldest first. Days without
// jobs are present with a zero count.
func (s *Service) histogram(start time.Time, created []time.Time) []model.DailyCount {
	out := make([]model.DailyCount, Days)
	index := make(map[string]int, Days)

	for i := range out {
		date := start.AddDate(0, 0, i).Format(time.DateOnly)
		out[i] = model.DailyCount{Date: date}
		index[date] = i
	}

	for _, t := range created {
		if i, ok := index[t.In(s.loc).Format(time.DateOnly)]; ok {
			out[i].Count++
		}
	}

	return out
}

// storageBytes sums object sizes with at most s.batch queries in flight.
// Objects that cannot be sized count as zero.
func (s *Service) storageBytes(ctx context.Context, keys []string) (int64, error) {
	var total atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batch)

	for _, key := range keys {
		key := key
		g.Go(func() error {
			n, err := s.sizer.Size(gctx, key)
			if err != nil {
				if errors.Is(err, file.ErrObjectNotFound) {
					zlog.Logger.Debug().Str("key", key).Msg("object missing, counted as zero bytes")
				} else {
					zlog.Logger.Warn().Err(err).Str("key", key).Msg("failed to get object size")
				}
				return nil
			}

			total.Add(n)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	return total.Load(), nil
}
