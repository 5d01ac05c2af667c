package service

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/novacal/novacal-api/internal/models"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
)

type routingAppointmentRepository interface {
	CountActiveByStaff(ctx context.Context, tenantID, staffID string) (int, error)
	CountByStaffSince(ctx context.Context, tenantID, staffID string, since time.Time) (int, error)
	CountOnDay(ctx context.Context, tenantID, staffID string, dayStart, dayEnd time.Time) (int, error)
}

type routingAvailability interface {
	ComputeSlots(ctx context.Context, tenantID string, at *models.AppointmentType, staffID string, rng models.DateRange, assigneeID string) ([]models.Slot, bool, error)
}

type routingProfileRepository interface {
	FindByStaffIDs(ctx context.Context, tenantID string, staffIDs []string) (map[string]*models.AvailabilityProfile, error)
}

// RouteResult is the routing decision plus its rationale.
type RouteResult struct {
	AssigneeID string `json:"assignee_id"`
	Reason     string `json:"reason"`
	// Rebalance advises that pool load has drifted past the configured
	// deviation. It never blocks the booking.
	Rebalance bool `json:"rebalance"`
}

// RoutingService selects the assignee for a booking according to the type's
// routing policy.
type RoutingService struct {
	appointments routingAppointmentRepository
	busy         busySource
	availability routingAvailability
	profiles     routingProfileRepository
	deviation    float64
	lookahead    int
	logger       *zap.Logger
	now          func() time.Time
}

// NewRoutingService constructs a RoutingService. profiles supplies candidate
// timezones for the daily capacity check; nil falls back to UTC days.
func NewRoutingService(appointments routingAppointmentRepository, busy busySource, availability routingAvailability, profiles routingProfileRepository, deviation float64, lookaheadDays int, logger *zap.Logger) *RoutingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deviation <= 0 {
		deviation = 0.20
	}
	if lookaheadDays <= 0 {
		lookaheadDays = 7
	}
	return &RoutingService{
		appointments: appointments,
		busy:         busy,
		availability: availability,
		profiles:     profiles,
		deviation:    deviation,
		lookahead:    lookaheadDays,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Route resolves the assignee for a booking in the given window.
// accountOwnerID is the owning staff member when the booking originates from
// a CRM account; it may be empty.
func (s *RoutingService) Route(ctx context.Context, tenantID string, at *models.AppointmentType, accountOwnerID string, window models.Slot) (*RouteResult, error) {
	switch at.RoutingPolicy {
	case models.RouteFixed:
		return s.routeFixed(at)
	case models.RouteAccountOwner:
		if accountOwnerID != "" {
			return &RouteResult{AssigneeID: accountOwnerID, Reason: "account owner"}, nil
		}
		return s.routeFixed(at)
	case models.RouteRoundRobin:
		return s.routeRoundRobin(ctx, tenantID, at, window)
	}
	return nil, appErrors.Clone(appErrors.ErrValidation, "unknown routing policy: "+string(at.RoutingPolicy))
}

func (s *RoutingService) routeFixed(at *models.AppointmentType) (*RouteResult, error) {
	if at.FixedAssigneeID == nil || *at.FixedAssigneeID == "" {
		return nil, appErrors.Clone(appErrors.ErrConflict, "no assignable host for appointment type")
	}
	return &RouteResult{AssigneeID: *at.FixedAssigneeID, Reason: "fixed assignee"}, nil
}

func (s *RoutingService) routeRoundRobin(ctx context.Context, tenantID string, at *models.AppointmentType, window models.Slot) (*RouteResult, error) {
	cfg := at.RoundRobin
	if cfg == nil || len(cfg.PoolIDs) == 0 {
		return s.routeFixed(at)
	}

	candidates, err := s.conflictFree(ctx, tenantID, cfg.PoolIDs, window)
	if err != nil {
		return nil, err
	}
	candidates, err = s.underDailyCapacity(ctx, tenantID, candidates, cfg, window)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return s.routeFixed(at)
	}

	counts, err := s.activeCounts(ctx, tenantID, cfg.PoolIDs)
	if err != nil {
		return nil, err
	}

	pick, reason, err := s.applyStrategy(ctx, tenantID, at, cfg, candidates, counts)
	if err != nil {
		return nil, err
	}

	return &RouteResult{
		AssigneeID: pick,
		Reason:     reason,
		Rebalance:  s.rebalanceAdvised(counts),
	}, nil
}

// tieBreaker scores a candidate; the lowest score wins. Each round-robin
// strategy maps to exactly one breaker so the dispatch stays closed.
type tieBreaker func(ctx context.Context, tenantID string, at *models.AppointmentType, cfg *models.RoundRobinConfig, staffID string, activeCount int) (float64, error)

func (s *RoutingService) strategyTable() map[models.RoundRobinStrategy]struct {
	score  tieBreaker
	reason string
} {
	return map[models.RoundRobinStrategy]struct {
		score  tieBreaker
		reason string
	}{
		models.RoundRobinStrict: {
			reason: "round robin: fewest active assignments",
			score: func(ctx context.Context, tenantID string, at *models.AppointmentType, cfg *models.RoundRobinConfig, staffID string, active int) (float64, error) {
				return float64(active), nil
			},
		},
		models.RoundRobinOptimize: {
			reason: "round robin: most open availability",
			score: func(ctx context.Context, tenantID string, at *models.AppointmentType, cfg *models.RoundRobinConfig, staffID string, active int) (float64, error) {
				now := s.now()
				rng := models.DateRange{From: now, To: now.AddDate(0, 0, s.lookahead)}
				slots, _, err := s.availability.ComputeSlots(ctx, tenantID, at, staffID, rng, staffID)
				if err != nil {
					// A host whose availability cannot be computed ranks last
					// rather than failing the whole route.
					s.logger.Warn("availability lookahead failed", zap.String("staff_id", staffID), zap.Error(err))
					return math.MaxFloat64, nil
				}
				return -float64(len(slots)), nil
			},
		},
		models.RoundRobinWeighted: {
			reason: "round robin: lowest weighted load",
			score: func(ctx context.Context, tenantID string, at *models.AppointmentType, cfg *models.RoundRobinConfig, staffID string, active int) (float64, error) {
				weight := 1
				if w, ok := cfg.Weights[staffID]; ok && w > 0 {
					weight = w
				}
				return float64(active) / float64(weight), nil
			},
		},
		models.RoundRobinPrioritizeCapacity: {
			reason: "round robin: fewest assignments in trailing 30 days",
			score: func(ctx context.Context, tenantID string, at *models.AppointmentType, cfg *models.RoundRobinConfig, staffID string, active int) (float64, error) {
				count, err := s.appointments.CountByStaffSince(ctx, tenantID, staffID, s.now().AddDate(0, 0, -30))
				if err != nil {
					return 0, err
				}
				return float64(count), nil
			},
		},
	}
}

func (s *RoutingService) applyStrategy(ctx context.Context, tenantID string, at *models.AppointmentType, cfg *models.RoundRobinConfig, candidates []string, counts map[string]int) (string, string, error) {
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = models.RoundRobinStrict
	}
	entry, ok := s.strategyTable()[strategy]
	if !ok {
		return "", "", appErrors.Clone(appErrors.ErrValidation, "unknown round robin strategy: "+string(strategy))
	}

	best := ""
	bestScore := math.MaxFloat64
	for _, staffID := range candidates {
		score, err := entry.score(ctx, tenantID, at, cfg, staffID, counts[staffID])
		if err != nil {
			return "", "", err
		}
		// Pool order breaks exact score ties, keeping the pick deterministic.
		if best == "" || score < bestScore {
			best = staffID
			bestScore = score
		}
	}
	return best, entry.reason, nil
}

func (s *RoutingService) conflictFree(ctx context.Context, tenantID string, pool []string, window models.Slot) ([]string, error) {
	var out []string
	for _, staffID := range pool {
		busy, _, err := s.busy.BusyIntervals(ctx, tenantID, staffID, window.Start, window.End)
		if err != nil {
			s.logger.Warn("busy check failed, excluding pool member",
				zap.String("staff_id", staffID), zap.Error(err))
			continue
		}
		if !overlapsAny(window, busy) {
			out = append(out, staffID)
		}
	}
	return out, nil
}

// underDailyCapacity keeps candidates whose booked count for the window's
// day is under the cap. The day is the candidate's own local calendar day,
// so a host in Sydney and one in Denver each get their real midnight bounds.
func (s *RoutingService) underDailyCapacity(ctx context.Context, tenantID string, candidates []string, cfg *models.RoundRobinConfig, window models.Slot) ([]string, error) {
	if cfg.CapacityPerDay <= 0 {
		return candidates, nil
	}
	locations := s.candidateLocations(ctx, tenantID, candidates)
	var out []string
	for _, staffID := range candidates {
		dayStart := startOfDay(window.Start.In(locations[staffID]))
		dayEnd := dayStart.AddDate(0, 0, 1)
		count, err := s.appointments.CountOnDay(ctx, tenantID, staffID, dayStart, dayEnd)
		if err != nil {
			return nil, err
		}
		if count < cfg.CapacityPerDay {
			out = append(out, staffID)
		}
	}
	return out, nil
}

// candidateLocations resolves each candidate's profile timezone. Staff with
// no profile, or when the lookup fails, count against UTC days.
func (s *RoutingService) candidateLocations(ctx context.Context, tenantID string, candidates []string) map[string]*time.Location {
	out := make(map[string]*time.Location, len(candidates))
	for _, staffID := range candidates {
		out[staffID] = time.UTC
	}
	if s.profiles == nil {
		return out
	}
	profiles, err := s.profiles.FindByStaffIDs(ctx, tenantID, candidates)
	if err != nil {
		s.logger.Warn("profile lookup for capacity check failed", zap.Error(err))
		return out
	}
	for staffID, profile := range profiles {
		out[staffID] = profile.Location()
	}
	return out
}

func (s *RoutingService) activeCounts(ctx context.Context, tenantID string, pool []string) (map[string]int, error) {
	counts := make(map[string]int, len(pool))
	for _, staffID := range pool {
		n, err := s.appointments.CountActiveByStaff(ctx, tenantID, staffID)
		if err != nil {
			return nil, err
		}
		counts[staffID] = n
	}
	return counts, nil
}

func (s *RoutingService) rebalanceAdvised(counts map[string]int) bool {
	if len(counts) < 2 {
		return false
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	mean := float64(total) / float64(len(counts))
	if mean == 0 {
		return false
	}
	for _, n := range counts {
		if math.Abs(float64(n)-mean)/mean > s.deviation {
			return true
		}
	}
	return false
}
