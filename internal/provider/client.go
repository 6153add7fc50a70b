// Package provider speaks the upstream reservations API: availability
// inventory queries and reservation creation. It is deliberately dumb about
// watches; callers decide what to fetch and what to book.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"tablewatch/internal/config"
	"tablewatch/internal/metrics"
	"tablewatch/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	maxPartySize = 20
	userAgent    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
)

type Client struct {
	hc        *http.Client
	baseURL   string
	origin    string
	limiter   *rate.Limiter
	anchors   []int
	slotLimit int
	logger    zerolog.Logger
}

func NewClient(cfg config.ProviderConfig, logger zerolog.Logger) *Client {
	return &Client{
		hc:        &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		baseURL:   cfg.BaseURL,
		origin:    cfg.Origin,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		anchors:   cfg.AnchorHours,
		slotLimit: cfg.SlotLimit,
		logger:    logger,
	}
}

// inventoryResponse mirrors the upstream wire shape. Availability is an
// int flag there, not a bool.
type inventoryResponse struct {
	Types []struct {
		ReservationTypeID int64 `json:"reservation_type_id"`
		Times             []struct {
			DisplayTime string `json:"display_time"`
			IsAvailable int    `json:"is_available"`
			ReservedTS  int64  `json:"reserved_ts"`
		} `json:"times"`
	} `json:"types"`
}

// FetchSlots queries the upstream once per anchor hour and merges the
// results. The upstream window is anchored around a timestamp; probing
// lunch, dinner and late evening covers the full service day. A failed
// anchor contributes zero slots rather than failing the fetch. Duplicate
// display times across anchors collapse to the first occurrence.
func (c *Client) FetchSlots(ctx context.Context, loc models.Location, date time.Time, partySize int) ([]models.Slot, error) {
	if partySize < 1 || partySize > maxPartySize {
		return nil, fmt.Errorf("party size %d out of range", partySize)
	}

	var slots []models.Slot
	seen := make(map[string]bool)
	var lastErr error

	for _, anchor := range c.anchors {
		anchorTime := time.Date(date.Year(), date.Month(), date.Day(), anchor, 0, 0, 0, date.Location())
		resp, err := c.fetchAnchor(ctx, loc, anchorTime, partySize)
		if err != nil {
			lastErr = err
			metrics.IncUpstream("inventory", "error")
			c.logger.Warn().Err(err).
				Str("location", loc.Key).
				Int("anchor_hour", anchor).
				Msg("inventory anchor failed")
			continue
		}
		metrics.IncUpstream("inventory", "ok")

		for _, t := range resp.Types {
			for _, s := range t.Times {
				if s.IsAvailable != 1 || s.DisplayTime == "" || seen[s.DisplayTime] {
					continue
				}
				seen[s.DisplayTime] = true
				slots = append(slots, models.Slot{
					DisplayTime: s.DisplayTime,
					Available:   true,
					ReservedTS:  s.ReservedTS,
					TypeID:      t.ReservationTypeID,
				})
			}
		}
	}

	// only surface an error when every anchor failed
	if len(slots) == 0 && lastErr != nil {
		return nil, fmt.Errorf("all inventory anchors failed: %w", lastErr)
	}
	return slots, nil
}

func (c *Client) fetchAnchor(ctx context.Context, loc models.Location, anchor time.Time, partySize int) (*inventoryResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("merchant_id", fmt.Sprintf("%d", loc.MerchantID))
	q.Set("party_size", fmt.Sprintf("%d", partySize))
	q.Set("search_ts", fmt.Sprintf("%d", anchor.UnixMilli()))
	q.Set("show_reservation_types", "1")
	q.Set("limit", fmt.Sprintf("%d", c.slotLimit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v2/web/reservations/inventory?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var parsed inventoryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode inventory: %w", err)
	}
	return &parsed, nil
}

// bookingRequest is the reservation-create payload. ClientRef rides along so
// reservations can later be traced back to the watch that placed them.
type bookingRequest struct {
	MerchantID        int64  `json:"merchant_id"`
	PartySize         int    `json:"party_size"`
	ReservedTS        int64  `json:"reserved_ts"`
	Name              string `json:"name"`
	FirstName         string `json:"first_name"`
	LastName          string `json:"last_name"`
	Email             string `json:"email"`
	Phone             string `json:"phone"`
	CountryCode       string `json:"country_code"`
	ReservationTypeID int64  `json:"reservation_type_id"`
	Source            string `json:"source"`
	MarketingOptIn    bool   `json:"marketing_opt_in"`
	ClientRef         string `json:"client_ref,omitempty"`
}

// Book places a reservation for the matched slot. The upstream answers 200
// even for refusals, so success is judged solely by the presence of a
// non-empty party object in the response body.
func (c *Client) Book(ctx context.Context, loc models.Location, w *models.Watch, slot models.Slot) (bool, error) {
	payload := bookingRequest{
		MerchantID:        loc.MerchantID,
		PartySize:         w.PartySize,
		ReservedTS:        slot.ReservedTS,
		Name:              w.BookFirstName + " " + w.BookLastName,
		FirstName:         w.BookFirstName,
		LastName:          w.BookLastName,
		Email:             w.ContactEmail(),
		Phone:             w.BookPhone,
		CountryCode:       "US",
		ReservationTypeID: slot.TypeID,
		Source:            "web",
		MarketingOptIn:    false,
		ClientRef:         w.ClientRef,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encode booking: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v2/web/reservations", bytes.NewReader(data))
	if err != nil {
		return false, err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		metrics.IncUpstream("book", "error")
		return false, err
	}

	var result struct {
		Party map[string]any `json:"party"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		metrics.IncUpstream("book", "error")
		return false, fmt.Errorf("decode booking response: %w", err)
	}

	if len(result.Party) == 0 {
		metrics.IncUpstream("book", "refused")
		return false, nil
	}
	metrics.IncUpstream("book", "ok")
	return true, nil
}

// setHeaders applies the browser-like headers the upstream expects from its
// own web widget.
func (c *Client) setHeaders(req *http.Request) {
	if c.origin != "" {
		req.Header.Set("Origin", c.origin)
		req.Header.Set("Referer", c.origin+"/")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
