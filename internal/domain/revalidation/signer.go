package revalidation

import (
	"context"
	"sort"
)

// SignerEventType is the kind of on-chain key registry event.
type SignerEventType int

const (
	SignerEventAdd SignerEventType = iota + 1
	SignerEventRemove
	SignerEventAdminReset
)

func (t SignerEventType) String() string {
	switch t {
	case SignerEventAdd:
		return "add"
	case SignerEventRemove:
		return "remove"
	case SignerEventAdminReset:
		return "admin_reset"
	default:
		return "unknown"
	}
}

// SignerEvent is an on-chain change to the set of keys allowed to sign for a
// FID.
type SignerEvent struct {
	FID            uint64
	BlockNumber    uint64
	BlockTimestamp uint64 // Unix seconds.
	LogIndex       uint32
	Key            []byte
	EventType      SignerEventType
}

// SignerEventPage is one page of signer events for a FID.
type SignerEventPage struct {
	Events        []SignerEvent
	NextPageToken []byte
}

// LatestSignerChange returns the Farcaster time of the most recent event, or
// zero when there are none.
func LatestSignerChange(events []SignerEvent) uint32 {
	var latest uint32
	for _, e := range events {
		if ts := OnChainTimestampToFarcaster(e.BlockTimestamp); ts > latest {
			latest = ts
		}
	}
	return latest
}

// ActiveSigners replays events in chain order and returns the set of keys
// currently allowed to sign, keyed by the raw key bytes.
func ActiveSigners(events []SignerEvent) map[string]struct{} {
	ordered := make([]SignerEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].BlockNumber != ordered[j].BlockNumber {
			return ordered[i].BlockNumber < ordered[j].BlockNumber
		}
		return ordered[i].LogIndex < ordered[j].LogIndex
	})

	active := make(map[string]struct{})
	for _, e := range ordered {
		switch e.EventType {
		case SignerEventAdd:
			active[string(e.Key)] = struct{}{}
		case SignerEventRemove, SignerEventAdminReset:
			delete(active, string(e.Key))
		}
	}
	return active
}

// RevocationEvent is published whenever a record is revoked.
type RevocationEvent struct {
	FID       uint64
	Hash      []byte
	Type      MessageType
	Signer    []byte
	Reason    string
	RunID     string
	RevokedAt int64 // Unix milliseconds.
}

// CollectSignerEvents drains every page of signer events for fid.
func CollectSignerEvents(ctx context.Context, src SignerEventSource, fid uint64) ([]SignerEvent, error) {
	var (
		events []SignerEvent
		token  []byte
	)
	for {
		page, err := src.SignerEvents(ctx, fid, token)
		if err != nil {
			return nil, err
		}
		events = append(events, page.Events...)
		if len(page.NextPageToken) == 0 {
			return events, nil
		}
		token = page.NextPageToken
	}
}
