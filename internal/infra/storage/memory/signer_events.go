package memory

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ahrav/hub-revalidator/internal/domain/revalidation"
)

var (
	_ revalidation.SignerEventSource = (*SignerEventSource)(nil)
	_ revalidation.NameRegistry      = (*NameRegistry)(nil)
)

// SignerEventSource serves signer events from memory, pageSize events at a
// time.
type SignerEventSource struct {
	mu       sync.RWMutex
	events   map[uint64][]revalidation.SignerEvent
	pageSize int
}

// NewSignerEventSource creates an empty source. A non-positive pageSize
// returns every event in a single page.
func NewSignerEventSource(pageSize int) *SignerEventSource {
	return &SignerEventSource{events: make(map[uint64][]revalidation.SignerEvent), pageSize: pageSize}
}

// Append records evt for its FID.
func (s *SignerEventSource) Append(evt revalidation.SignerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[evt.FID] = append(s.events[evt.FID], evt)
}

func (s *SignerEventSource) SignerEvents(
	_ context.Context,
	fid uint64,
	pageToken []byte,
) (revalidation.SignerEventPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.events[fid]
	offset := 0
	if len(pageToken) > 0 {
		if len(pageToken) != 4 {
			return revalidation.SignerEventPage{}, fmt.Errorf("malformed page token of %d bytes", len(pageToken))
		}
		offset = int(binary.BigEndian.Uint32(pageToken))
	}
	if offset > len(all) {
		offset = len(all)
	}

	end := len(all)
	if s.pageSize > 0 && offset+s.pageSize < end {
		end = offset + s.pageSize
	}

	page := revalidation.SignerEventPage{
		Events: append([]revalidation.SignerEvent(nil), all[offset:end]...),
	}
	if end < len(all) {
		page.NextPageToken = binary.BigEndian.AppendUint32(nil, uint32(end))
	}
	return page, nil
}

// NameRegistry maps usernames to their owning FID.
type NameRegistry struct {
	mu     sync.RWMutex
	owners map[string]uint64
}

// NewNameRegistry creates an empty registry.
func NewNameRegistry() *NameRegistry {
	return &NameRegistry{owners: make(map[string]uint64)}
}

// Set assigns name to fid. A zero fid marks the name as unowned.
func (r *NameRegistry) Set(name string, fid uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[name] = fid
}

// Owner returns the owning FID of name, or zero when it is unowned.
func (r *NameRegistry) Owner(_ context.Context, name string) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owners[name], nil
}
