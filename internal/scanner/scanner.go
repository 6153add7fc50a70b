// Package scanner runs the watch-matching cycle: pick the watches due for a
// look, fetch availability once per distinct location/date/party group, match
// slots against time windows, book and notify, and stamp the results.
package scanner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tablewatch/internal/booking"
	"tablewatch/internal/database"
	"tablewatch/internal/domain"
	"tablewatch/internal/metrics"
	"tablewatch/internal/models"
	"tablewatch/internal/timewindow"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	TierUrgent = "urgent"
	TierNormal = "normal"
	TierAll    = "all"
)

// Booker is the auto-booking seam; satisfied by booking.Orchestrator.
type Booker interface {
	Attempt(ctx context.Context, tx booking.StatusWriter, m models.Match, now time.Time) (bool, error)
}

// Summary reports what one cycle did.
type Summary struct {
	Tier     string
	Scanned  int
	Skipped  int
	Groups   int
	Matches  int
	Booked   int
	Notified int
	Expired  int64
}

type Config struct {
	RescanBuffer time.Duration
	FetchWorkers int
}

type Scanner struct {
	db        *database.DB
	inventory domain.InventoryClient
	booker    Booker
	notifier  domain.Notifier
	locations map[string]models.Location
	cfg       Config
	logger    zerolog.Logger
}

func New(db *database.DB, inventory domain.InventoryClient, booker Booker, notifier domain.Notifier, locations []models.Location, cfg Config, logger zerolog.Logger) *Scanner {
	if cfg.RescanBuffer == 0 {
		cfg.RescanBuffer = models.DefaultRescanBufferMinutes * time.Minute
	}
	if cfg.FetchWorkers == 0 {
		cfg.FetchWorkers = models.DefaultFetchWorkers
	}
	index := make(map[string]models.Location, len(locations))
	for _, loc := range locations {
		index[loc.Key] = loc
	}
	return &Scanner{
		db:        db,
		inventory: inventory,
		booker:    booker,
		notifier:  notifier,
		locations: index,
		cfg:       cfg,
		logger:    logger,
	}
}

// groupKey identifies one upstream fetch: every watch sharing it is served by
// a single inventory request.
type groupKey struct {
	LocationKey string
	Date        string
	PartySize   int
}

// Scan runs one cycle for a tier and commits its state changes atomically.
// Expiry runs first on its own statement so stale watches disappear even when
// the cycle later fails.
func (s *Scanner) Scan(ctx context.Context, tier string, now time.Time) (Summary, error) {
	cycleID := uuid.NewString()
	logger := s.logger.With().Str("cycle_id", cycleID).Str("tier", tier).Logger()
	summary := Summary{Tier: tier}

	expired, err := s.db.ExpireStale(ctx, now)
	if err != nil {
		metrics.IncCycle(tier, "error")
		return summary, fmt.Errorf("expire stale watches: %w", err)
	}
	summary.Expired = expired
	if expired > 0 {
		metrics.AddExpired(int(expired))
		logger.Info().Int64("count", expired).Msg("expired stale watches")
	}

	watches, err := s.db.ListActiveWatches(ctx)
	if err != nil {
		metrics.IncCycle(tier, "error")
		return summary, fmt.Errorf("list active watches: %w", err)
	}
	if len(watches) == 0 {
		logger.Info().Msg("no active watches")
		metrics.IncCycle(tier, "ok")
		return summary, nil
	}

	scannable := s.filterTier(watches, tier, now, &summary)
	if len(scannable) == 0 {
		logger.Info().Int("skipped", summary.Skipped).Msg("nothing to scan")
		metrics.IncCycle(tier, "ok")
		metrics.AddSkipped(tier, summary.Skipped)
		return summary, nil
	}
	summary.Scanned = len(scannable)

	groups := groupWatches(scannable)
	summary.Groups = len(groups)

	slotsByGroup := s.fetchGroups(ctx, groups, logger)

	matchesByWatch, total := s.matchWatches(scannable, groups, slotsByGroup, logger)
	summary.Matches = total

	if err := s.commitResults(ctx, scannable, matchesByWatch, now, &summary, logger); err != nil {
		metrics.IncCycle(tier, "error")
		return summary, err
	}

	metrics.IncCycle(tier, "ok")
	metrics.AddScanned(tier, summary.Scanned)
	metrics.AddSkipped(tier, summary.Skipped)
	metrics.AddMatches(tier, summary.Matches)
	logger.Info().
		Int("scanned", summary.Scanned).
		Int("skipped", summary.Skipped).
		Int("groups", summary.Groups).
		Int("matches", summary.Matches).
		Int("booked", summary.Booked).
		Int("notified", summary.Notified).
		Msg("scan cycle complete")
	return summary, nil
}

// filterTier applies the urgency split and the normal-tier rescan buffer.
func (s *Scanner) filterTier(watches []*models.Watch, tier string, now time.Time, summary *Summary) []*models.Watch {
	var scannable []*models.Watch
	for _, w := range watches {
		hoursUntil := w.HoursUntil(now)

		if tier == TierUrgent && hoursUntil >= models.UrgentHorizonHours {
			summary.Skipped++
			continue
		}
		if tier == TierNormal && hoursUntil < models.UrgentHorizonHours {
			summary.Skipped++
			continue
		}
		if tier == TierNormal && w.LastScanned != nil && now.Sub(*w.LastScanned) < s.cfg.RescanBuffer {
			summary.Skipped++
			continue
		}

		scannable = append(scannable, w)
	}
	return scannable
}

func groupWatches(watches []*models.Watch) map[groupKey][]*models.Watch {
	groups := make(map[groupKey][]*models.Watch)
	for _, w := range watches {
		key := groupKey{
			LocationKey: w.LocationKey,
			Date:        w.TargetDate.Format("2006-01-02"),
			PartySize:   w.PartySize,
		}
		groups[key] = append(groups[key], w)
	}
	return groups
}

// fetchGroups pulls inventory for every group with bounded concurrency. A
// failed group degrades to zero slots; its watches simply see no matches this
// cycle.
func (s *Scanner) fetchGroups(ctx context.Context, groups map[groupKey][]*models.Watch, logger zerolog.Logger) map[groupKey][]models.Slot {
	results := make(map[groupKey][]models.Slot, len(groups))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.cfg.FetchWorkers)

	for key := range groups {
		loc, ok := s.locations[key.LocationKey]
		if !ok {
			logger.Warn().Str("location", key.LocationKey).Msg("watch references unknown location")
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(key groupKey, loc models.Location) {
			defer wg.Done()
			defer func() { <-sem }()

			date, err := time.Parse("2006-01-02", key.Date)
			if err != nil {
				logger.Error().Err(err).Str("date", key.Date).Msg("bad group date")
				return
			}
			slots, err := s.inventory.FetchSlots(ctx, loc, date, key.PartySize)
			if err != nil {
				logger.Warn().Err(err).
					Str("location", key.LocationKey).
					Str("date", key.Date).
					Int("party_size", key.PartySize).
					Msg("inventory fetch failed, group skipped")
				return
			}
			mu.Lock()
			results[key] = slots
			mu.Unlock()
		}(key, loc)
	}
	wg.Wait()
	return results
}

// matchWatches pairs each watch with the slots inside its window, keeping
// slot order stable by time of day. Returns matches keyed by watch id plus
// the total pair count.
func (s *Scanner) matchWatches(scannable []*models.Watch, groups map[groupKey][]*models.Watch, slotsByGroup map[groupKey][]models.Slot, logger zerolog.Logger) (map[int64][]models.Match, int) {
	matchesByWatch := make(map[int64][]models.Match)
	total := 0

	for key, watchList := range groups {
		slots := slotsByGroup[key]
		if len(slots) == 0 {
			continue
		}
		loc := s.locations[key.LocationKey]

		for _, w := range watchList {
			window, err := timewindow.Parse(w.TimeStart, w.TimeEnd)
			if err != nil {
				logger.Warn().Err(err).Int64("watch_id", w.ID).Msg("unparseable watch window")
				continue
			}
			for _, slot := range slots {
				minute, err := timewindow.Minutes(slot.DisplayTime)
				if err != nil {
					continue
				}
				if window.Contains(minute) {
					matchesByWatch[w.ID] = append(matchesByWatch[w.ID], models.Match{Watch: w, Slot: slot, Location: loc})
					total++
				}
			}
			sort.SliceStable(matchesByWatch[w.ID], func(i, j int) bool {
				a, _ := timewindow.Minutes(matchesByWatch[w.ID][i].Slot.DisplayTime)
				b, _ := timewindow.Minutes(matchesByWatch[w.ID][j].Slot.DisplayTime)
				return a < b
			})
		}
	}
	return matchesByWatch, total
}

// cycleOutcome is a matched watch's result, carried out of the cycle
// transaction so notification happens after commit.
type cycleOutcome struct {
	match  models.Match
	booked bool
}

// commitResults books and stamps inside one transaction, then notifies.
// The notifier reads the dedup log and writes queue rows itself, so it must
// not run while the cycle transaction holds the connection; every database
// touch between BeginCycle and Commit goes through the transaction. Booking
// tries a watch's matched slots earliest-first and stops at the first
// confirmation; each matched watch is notified once per cycle.
func (s *Scanner) commitResults(ctx context.Context, scannable []*models.Watch, matchesByWatch map[int64][]models.Match, now time.Time, summary *Summary, logger zerolog.Logger) error {
	tx, err := s.db.BeginCycle(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var outcomes []cycleOutcome
	for _, w := range scannable {
		matches := matchesByWatch[w.ID]
		if len(matches) == 0 {
			continue
		}

		booked := false
		bookedMatch := matches[0]
		for _, m := range matches {
			ok, err := s.booker.Attempt(ctx, tx, m, now)
			if err != nil {
				return fmt.Errorf("record booking for watch %d: %w", w.ID, err)
			}
			if ok {
				booked = true
				bookedMatch = m
				break
			}
		}

		if booked {
			summary.Booked++
		} else {
			if err := tx.MarkNotified(ctx, w.ID, now); err != nil {
				return fmt.Errorf("mark notified watch %d: %w", w.ID, err)
			}
		}
		outcomes = append(outcomes, cycleOutcome{match: bookedMatch, booked: booked})
	}

	scannedIDs := make([]int64, 0, len(scannable))
	for _, w := range scannable {
		scannedIDs = append(scannedIDs, w.ID)
	}
	if err := tx.MarkScanned(ctx, scannedIDs, now); err != nil {
		return fmt.Errorf("mark scanned: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	for _, o := range outcomes {
		count, err := s.notifier.NotifyMatch(ctx, o.match, o.booked)
		if err != nil {
			logger.Error().Err(err).Int64("watch_id", o.match.Watch.ID).Msg("notify failed")
		}
		if count > 0 {
			summary.Notified++
		}
	}
	return nil
}
