package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/novacal/novacal-api/internal/models"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
	"github.com/novacal/novacal-api/pkg/export"
	"github.com/novacal/novacal-api/pkg/storage"
)

type exportAppointmentRepository interface {
	List(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, int, error)
}

type exportTypeRepository interface {
	FindByID(ctx context.Context, tenantID, id string) (*models.AppointmentType, error)
}

type exportStaffRepository interface {
	FindByID(ctx context.Context, tenantID, id string) (*models.StaffMember, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type scheduleRenderer interface {
	Render(day export.ScheduleDay) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	ExpiresAt    time.Time
}

// ExportService renders daily staff schedules and persists the files behind
// signed download tokens.
type ExportService struct {
	appointments exportAppointmentRepository
	types        exportTypeRepository
	staff        exportStaffRepository
	storage      fileStorage
	pdf          scheduleRenderer
	signer       *storage.SignedURLSigner
	logger       *zap.Logger
	cfg          ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(appointments exportAppointmentRepository, types exportTypeRepository, staff exportStaffRepository, files fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, pdf scheduleRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if pdf == nil {
		pdf = export.NewSchedulePDF()
	}
	return &ExportService{
		appointments: appointments,
		types:        types,
		staff:        staff,
		storage:      files,
		pdf:          pdf,
		signer:       signer,
		logger:       logger,
		cfg:          cfg,
	}
}

// GenerateSchedule renders a staff member's appointments for one local day
// and stores the PDF under a signed token.
func (s *ExportService) GenerateSchedule(ctx context.Context, tenantID, staffID string, date time.Time, loc *time.Location) (*ExportResult, error) {
	if loc == nil {
		loc = time.UTC
	}
	member, err := s.staff.FindByID(ctx, tenantID, staffID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "staff member not found")
	}

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)
	from := dayStart.UTC()
	to := dayEnd.UTC()

	appts, _, err := s.appointments.List(ctx, models.AppointmentFilter{
		TenantID: tenantID,
		StaffID:  staffID,
		Statuses: []models.AppointmentStatus{models.StatusRequested, models.StatusConfirmed, models.StatusCompleted},
		From:     &from,
		To:       &to,
		PageSize: 500,
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(appts, func(i, j int) bool { return appts[i].StartAt.Before(appts[j].StartAt) })

	rows := make([]export.ScheduleRow, 0, len(appts))
	for i := range appts {
		rows = append(rows, s.scheduleRow(ctx, &appts[i], loc))
	}

	payload, err := s.pdf.Render(export.ScheduleDay{
		StaffName: member.Name,
		Date:      dayStart.Format("2006-01-02"),
		Timezone:  loc.String(),
		Rows:      rows,
	})
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("schedule_%s_%s_%s.pdf",
		sanitizeFilename(staffID), dayStart.Format("20060102"), time.Now().UTC().Format("150405"))
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(staffID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/export/%s", prefix, token),
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (ownerID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) scheduleRow(ctx context.Context, appt *models.Appointment, loc *time.Location) export.ScheduleRow {
	title := "External event"
	location := ""
	if appt.TypeID != "" {
		if at, err := s.types.FindByID(ctx, appt.TenantID, appt.TypeID); err == nil {
			title = at.Name
			location = string(at.LocationMode)
		} else {
			s.logger.Warn("schedule export could not resolve appointment type",
				zap.String("type_id", appt.TypeID), zap.Error(err))
			title = appt.TypeID
		}
	}
	return export.ScheduleRow{
		Start:    appt.StartAt.In(loc).Format("15:04"),
		End:      appt.EndAt.In(loc).Format("15:04"),
		Title:    title,
		Invitee:  appt.InviteeName,
		Location: location,
		Status:   string(appt.Status),
	}
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
