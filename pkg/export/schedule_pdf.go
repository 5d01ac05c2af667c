package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// ScheduleDay is one staff member's day of appointments rendered for export.
type ScheduleDay struct {
	StaffName string
	Date      string
	Timezone  string
	Rows      []ScheduleRow
}

// ScheduleRow is one appointment line in a schedule export.
type ScheduleRow struct {
	Start    string
	End      string
	Title    string
	Invitee  string
	Location string
	Status   string
}

// SchedulePDF renders a staff member's daily appointment schedule.
type SchedulePDF struct{}

// NewSchedulePDF constructs the PDF renderer.
func NewSchedulePDF() *SchedulePDF {
	return &SchedulePDF{}
}

var scheduleColumns = []struct {
	header string
	width  float64
}{
	{"Start", 22},
	{"End", 22},
	{"Meeting", 56},
	{"Invitee", 45},
	{"Location", 25},
	{"Status", 20},
}

// Render produces the PDF bytes for a single day.
func (e *SchedulePDF) Render(day ScheduleDay) ([]byte, error) {
	if day.Date == "" {
		return nil, fmt.Errorf("pdf schedule requires a date")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	title := fmt.Sprintf("%s — %s", strings.TrimSpace(day.StaffName), day.Date)
	pdf.CellFormat(0, 10, title, "", 1, "C", false, 0, "")
	if day.Timezone != "" {
		pdf.SetFont("Arial", "I", 9)
		pdf.CellFormat(0, 6, fmt.Sprintf("All times %s", day.Timezone), "", 1, "C", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	for _, col := range scheduleColumns {
		pdf.CellFormat(col.width, 8, col.header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	if len(day.Rows) == 0 {
		pdf.CellFormat(190, 7, "No appointments", "1", 1, "C", false, 0, "")
	}
	for _, row := range day.Rows {
		values := []string{row.Start, row.End, row.Title, row.Invitee, row.Location, row.Status}
		for i, col := range scheduleColumns {
			pdf.CellFormat(col.width, 7, values[i], "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render schedule pdf: %w", err)
	}
	return buf.Bytes(), nil
}
