package hub

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ahrav/hub-revalidator/internal/domain/revalidation"
)

var (
	_ revalidation.SignerEventSource = (*Client)(nil)
	_ revalidation.NameRegistry      = (*Client)(nil)
)

type onChainEventsResponse struct {
	Events []struct {
		Type            string `json:"type"`
		BlockNumber     uint64 `json:"blockNumber"`
		BlockTimestamp  uint64 `json:"blockTimestamp"`
		LogIndex        uint32 `json:"logIndex"`
		FID             uint64 `json:"fid"`
		SignerEventBody *struct {
			Key       string `json:"key"`
			EventType string `json:"eventType"`
		} `json:"signerEventBody"`
	} `json:"events"`
	NextPageToken string `json:"nextPageToken"`
}

// SignerEvents returns one page of on-chain signer events for fid.
func (c *Client) SignerEvents(ctx context.Context, fid uint64, pageToken []byte) (revalidation.SignerEventPage, error) {
	query := url.Values{}
	query.Set("fid", strconv.FormatUint(fid, 10))
	query.Set("event_type", "EVENT_TYPE_SIGNER")
	if len(pageToken) > 0 {
		query.Set("pageToken", base64.StdEncoding.EncodeToString(pageToken))
	}

	var resp onChainEventsResponse
	if err := c.getJSON(ctx, "/v1/onChainEventsByFid", query, &resp); err != nil {
		return revalidation.SignerEventPage{}, fmt.Errorf("failed to fetch signer events for fid %d: %w", fid, err)
	}

	page := revalidation.SignerEventPage{
		Events: make([]revalidation.SignerEvent, 0, len(resp.Events)),
	}
	for _, e := range resp.Events {
		if e.SignerEventBody == nil {
			continue
		}
		key, err := decodeHex(e.SignerEventBody.Key)
		if err != nil {
			return revalidation.SignerEventPage{}, fmt.Errorf("malformed signer key for fid %d: %w", fid, err)
		}
		page.Events = append(page.Events, revalidation.SignerEvent{
			FID:            e.FID,
			BlockNumber:    e.BlockNumber,
			BlockTimestamp: e.BlockTimestamp,
			LogIndex:       e.LogIndex,
			Key:            key,
			EventType:      parseSignerEventType(e.SignerEventBody.EventType),
		})
	}

	if resp.NextPageToken != "" {
		token, err := base64.StdEncoding.DecodeString(resp.NextPageToken)
		if err != nil {
			return revalidation.SignerEventPage{}, fmt.Errorf("malformed page token: %w", err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

type usernameProofResponse struct {
	Name string `json:"name"`
	FID  uint64 `json:"fid"`
}

// Owner returns the FID that currently owns name, or zero if nobody does.
func (c *Client) Owner(ctx context.Context, name string) (uint64, error) {
	query := url.Values{}
	query.Set("name", name)

	var resp usernameProofResponse
	if err := c.getJSON(ctx, "/v1/userNameProofByName", query, &resp); err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to resolve owner of %q: %w", name, err)
	}
	return resp.FID, nil
}

func parseSignerEventType(s string) revalidation.SignerEventType {
	switch s {
	case "SIGNER_EVENT_TYPE_ADD":
		return revalidation.SignerEventAdd
	case "SIGNER_EVENT_TYPE_REMOVE":
		return revalidation.SignerEventRemove
	case "SIGNER_EVENT_TYPE_ADMIN_RESET":
		return revalidation.SignerEventAdminReset
	default:
		return 0
	}
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
