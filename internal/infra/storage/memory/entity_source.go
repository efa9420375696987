package memory

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/ahrav/hub-revalidator/internal/domain/revalidation"
)

var _ revalidation.EntitySource = (*EntitySource)(nil)

// EntitySource is an in-memory FID registry paged in ascending order.
type EntitySource struct {
	mu   sync.RWMutex
	fids map[uint64]struct{}
}

// NewEntitySource creates a registry seeded with fids.
func NewEntitySource(fids ...uint64) *EntitySource {
	s := &EntitySource{fids: make(map[uint64]struct{}, len(fids))}
	for _, fid := range fids {
		s.fids[fid] = struct{}{}
	}
	return s
}

// Add registers fid.
func (s *EntitySource) Add(fid uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fids[fid] = struct{}{}
}

// FIDsPage returns up to pageSize FIDs greater than the FID encoded in
// pageToken. The token is the last FID of the previous page.
func (s *EntitySource) FIDsPage(_ context.Context, pageToken []byte, pageSize int) (revalidation.EntityPage, error) {
	if pageSize <= 0 {
		return revalidation.EntityPage{}, fmt.Errorf("page size must be positive, got %d", pageSize)
	}

	var after uint64
	if len(pageToken) > 0 {
		if len(pageToken) != 8 {
			return revalidation.EntityPage{}, fmt.Errorf("malformed page token of %d bytes", len(pageToken))
		}
		after = binary.BigEndian.Uint64(pageToken)
	}

	s.mu.RLock()
	all := make([]uint64, 0, len(s.fids))
	for fid := range s.fids {
		if len(pageToken) == 0 || fid > after {
			all = append(all, fid)
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	page := revalidation.EntityPage{}
	if len(all) > pageSize {
		page.FIDs = all[:pageSize]
		page.NextPageToken = binary.BigEndian.AppendUint64(nil, page.FIDs[pageSize-1])
	} else {
		page.FIDs = all
	}
	return page, nil
}
