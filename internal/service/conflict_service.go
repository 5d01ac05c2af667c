package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/novacal/novacal-api/internal/models"
	"github.com/novacal/novacal-api/internal/provider"
)

type conflictConnectionRepository interface {
	ListByStaff(ctx context.Context, tenantID, staffID string) ([]models.CalendarConnection, error)
}

type conflictAppointmentRepository interface {
	ListBlockingInRange(ctx context.Context, tenantID, staffID string, from, to time.Time) ([]models.Appointment, error)
}

// ConflictService merges a host's busy intervals from internal appointments
// and every syncable external connection.
type ConflictService struct {
	connections  conflictConnectionRepository
	appointments conflictAppointmentRepository
	registry     *provider.Registry
	logger       *zap.Logger
}

// NewConflictService constructs a ConflictService.
func NewConflictService(connections conflictConnectionRepository, appointments conflictAppointmentRepository, registry *provider.Registry, logger *zap.Logger) *ConflictService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictService{
		connections:  connections,
		appointments: appointments,
		registry:     registry,
		logger:       logger,
	}
}

// BusyIntervals returns the merged, sorted busy intervals for one host over
// [from, to). External feeds that fail are skipped with a warning so one bad
// connection does not hide the host's own book of business; the skipped
// count is reported so callers can decide whether partial data is acceptable.
func (s *ConflictService) BusyIntervals(ctx context.Context, tenantID, staffID string, from, to time.Time) ([]models.Slot, int, error) {
	var busy []models.Slot

	internal, err := s.appointments.ListBlockingInRange(ctx, tenantID, staffID, from, to)
	if err != nil {
		return nil, 0, err
	}
	for _, appt := range internal {
		busy = append(busy, appt.Window())
	}

	conns, err := s.connections.ListByStaff(ctx, tenantID, staffID)
	if err != nil {
		return nil, 0, err
	}

	skipped := 0
	window := models.Slot{Start: from, End: to}
	for i := range conns {
		conn := &conns[i]
		if !conn.Status.Syncable() {
			continue
		}
		events, err := s.listAllEvents(ctx, conn, window)
		if err != nil {
			skipped++
			s.logger.Warn("skipping unreachable calendar connection",
				zap.String("connection_id", conn.ID),
				zap.String("provider", string(conn.Provider)),
				zap.Error(err))
			continue
		}
		for _, ev := range events {
			if slot, ok := eventBusySlot(conn, ev, from, to); ok {
				busy = append(busy, slot)
			}
		}
	}

	return mergeSlots(busy), skipped, nil
}

// listAllEvents drains the adapter's pagination for a one-off range query.
// Conflict checks never use the stored sync cursor; that belongs to the
// incremental sync engine.
func (s *ConflictService) listAllEvents(ctx context.Context, conn *models.CalendarConnection, window models.Slot) ([]provider.Event, error) {
	adapter, err := s.registry.Get(conn.Provider)
	if err != nil {
		return nil, err
	}

	var out []provider.Event
	cursor := ""
	for {
		page, err := adapter.ListEvents(ctx, conn, window, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Events...)
		if page.NextCursor == "" || len(page.Events) == 0 {
			break
		}
		cursor = page.NextCursor
	}
	return out, nil
}

// eventBusySlot converts an external event to a busy interval, clamped to the
// query range. All-day events block their full days.
func eventBusySlot(conn *models.CalendarConnection, ev provider.Event, from, to time.Time) (models.Slot, bool) {
	if ev.Cancelled {
		return models.Slot{}, false
	}
	if ev.Tentative && !conn.TentativeBusy {
		return models.Slot{}, false
	}

	start, end := ev.Start, ev.End
	if ev.AllDay {
		start = start.Truncate(24 * time.Hour)
		end = end.Truncate(24 * time.Hour)
		if end.Before(ev.End) {
			end = end.Add(24 * time.Hour)
		}
	}

	if start.Before(from) {
		start = from
	}
	if end.After(to) {
		end = to
	}
	if !start.Before(end) {
		return models.Slot{}, false
	}
	return models.Slot{Start: start, End: end}, true
}

// mergeSlots sorts and coalesces overlapping or touching intervals.
func mergeSlots(slots []models.Slot) []models.Slot {
	if len(slots) <= 1 {
		return slots
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })

	merged := slots[:1]
	for _, s := range slots[1:] {
		last := &merged[len(merged)-1]
		if !s.Start.After(last.End) {
			if s.End.After(last.End) {
				last.End = s.End
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}
