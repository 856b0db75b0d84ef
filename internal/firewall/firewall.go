// Package firewall implements the per-connection Bandwidth Limiter of
// spec.md §4.7: a token-bucket byte budget per direction, plus a burst gate
// bounding how many sends/receives can be in flight at once.
package firewall

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/ocx/gateway/internal/gatewayerr"
)

// acquireTimeout bounds how long try_upload/try_download will wait for a
// burst slot before giving up, per spec.md §4.7.
const acquireTimeout = time.Second

// Limits configures one Limiter. BytesPerSecond is the sustained byte
// budget per direction; BurstSlots caps concurrent in-flight sends/receives.
type Limits struct {
	BytesPerSecond int
	BurstSlots     int64
}

// Stats is a point-in-time snapshot of a Limiter's counters.
type Stats struct {
	UploadedBytes   int64
	DownloadedBytes int64
	Denials         int64
}

// Limiter bounds one connection's upload and download bandwidth. Upload and
// download are tracked independently since spec.md §4.7 treats them as
// separate budgets.
type Limiter struct {
	uploadBucket   *rate.Limiter
	downloadBucket *rate.Limiter
	uploadSem      *semaphore.Weighted
	downloadSem    *semaphore.Weighted

	mu       sync.Mutex
	stats    Stats
	disposed bool
}

// New validates limits and constructs a Limiter. Non-positive limits are a
// construction-time configuration error.
func New(limits Limits) (*Limiter, error) {
	if limits.BytesPerSecond <= 0 || limits.BurstSlots <= 0 {
		return nil, gatewayerr.New(gatewayerr.KindConfigInvalid, "firewall.New", nil)
	}
	burst := limits.BytesPerSecond
	return &Limiter{
		uploadBucket:   rate.NewLimiter(rate.Limit(limits.BytesPerSecond), burst),
		downloadBucket: rate.NewLimiter(rate.Limit(limits.BytesPerSecond), burst),
		uploadSem:      semaphore.NewWeighted(limits.BurstSlots),
		downloadSem:    semaphore.NewWeighted(limits.BurstSlots),
	}, nil
}

// TryUpload reserves n bytes and one burst slot for an outgoing frame,
// blocking up to acquireTimeout for the burst slot. It returns
// RateLimited if the byte budget is exhausted or the slot can't be
// acquired in time.
func (l *Limiter) TryUpload(n int) error {
	return l.try(l.uploadBucket, l.uploadSem, n, &l.stats.UploadedBytes)
}

// TryDownload is TryUpload's counterpart for inbound frames.
func (l *Limiter) TryDownload(n int) error {
	return l.try(l.downloadBucket, l.downloadSem, n, &l.stats.DownloadedBytes)
}

func (l *Limiter) try(bucket *rate.Limiter, sem *semaphore.Weighted, n int, counter *int64) error {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return gatewayerr.New(gatewayerr.KindDisposed, "firewall.try", nil)
	}
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), acquireTimeout)
	defer cancel()
	if err := sem.Acquire(ctx, 1); err != nil {
		l.recordDenial()
		return gatewayerr.New(gatewayerr.KindRateLimited, "firewall.try", err)
	}
	defer sem.Release(1)

	if !bucket.AllowN(time.Now(), n) {
		l.recordDenial()
		return gatewayerr.New(gatewayerr.KindRateLimited, "firewall.try", nil)
	}

	l.mu.Lock()
	*counter += int64(n)
	l.mu.Unlock()
	return nil
}

func (l *Limiter) recordDenial() {
	l.mu.Lock()
	l.stats.Denials++
	l.mu.Unlock()
}

// Stats returns a snapshot of the limiter's counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Dispose marks the limiter inactive; subsequent TryUpload/TryDownload
// calls fail with Disposed. Idempotent.
func (l *Limiter) Dispose() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disposed = true
}
