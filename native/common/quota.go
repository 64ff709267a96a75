package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// BucketSeconds is the width of a request-quota bucket. Counters reset when
// the wall clock crosses into the next bucket; the window is bucketed, not
// sliding.
const BucketSeconds = 3600

// QuotaNow captures the current usage counters for a principal.
type QuotaNow struct {
	ReqCount uint32
	BucketID uint64
}

// Quota defines the per-bucket request limit enforced for a principal. A zero
// MaxRequestsPerBucket disables the check.
type Quota struct {
	MaxRequestsPerBucket uint32
}

// Bucket maps a unix timestamp onto its quota bucket identifier.
func Bucket(nowUnix int64) uint64 {
	if nowUnix <= 0 {
		return 0
	}
	return uint64(nowUnix) / BucketSeconds
}

// CheckQuota verifies whether the additional requests fit within the quota for
// the current bucket. The returned QuotaNow reflects the updated counters when
// the quota is not exceeded; on failure the previous counters are returned
// unchanged.
func CheckQuota(q Quota, nowBucket uint64, prev QuotaNow, addReq uint32) (QuotaNow, error) {
	next := prev
	if prev.BucketID != nowBucket {
		next = QuotaNow{BucketID: nowBucket}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerBucket > 0 && next.ReqCount > q.MaxRequestsPerBucket {
		return prev, ErrQuotaRequestsExceeded
	}

	return next, nil
}
