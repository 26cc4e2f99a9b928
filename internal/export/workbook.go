package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"garagehub/internal/models"
	"garagehub/internal/timeline"

	"github.com/xuri/excelize/v2"
)

const SheetName = "Bookings"

const cellTimeLayout = "2006-01-02 15:04"

var baseHeaders = []string{"ID", "Customer", "Service", "Mechanic", "Status", "Scheduled At"}

var stateFills = map[timeline.State]string{
	timeline.StateCompleted: "#C6EFCE",
	timeline.StateActive:    "#FFEB9C",
}

// BookingsWorkbook renders bookings into a single-sheet workbook with one
// column per timeline milestone holding the time it was reached.
func BookingsWorkbook(bookings []*models.Booking, loc *time.Location) (*excelize.File, error) {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		f.Close()
		return nil, fmt.Errorf("error renaming sheet: %w", err)
	}

	headers := append([]string(nil), baseHeaders...)
	for _, m := range timeline.Milestones {
		headers = append(headers, m.String())
	}
	if err := writeHeaders(f, headers); err != nil {
		f.Close()
		return nil, err
	}

	styles, err := newStateStyles(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	for i, b := range bookings {
		row := i + 2
		if err := writeBooking(f, row, b, loc, styles); err != nil {
			f.Close()
			return nil, err
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.SetColWidth(SheetName, "A", "A", 8)
	_ = f.SetColWidth(SheetName, "B", lastCol, 20)
	_ = f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	return f, nil
}

func writeHeaders(f *excelize.File, headers []string) error {
	style, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("error creating header style: %w", err)
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	return f.SetCellStyle(SheetName, "A1", last, style)
}

func newStateStyles(f *excelize.File) (map[timeline.State]int, error) {
	out := make(map[timeline.State]int, len(stateFills))
	for state, color := range stateFills {
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err != nil {
			return nil, fmt.Errorf("error creating %s style: %w", state, err)
		}
		out[state] = id
	}
	return out, nil
}

func writeBooking(f *excelize.File, row int, b *models.Booking, loc *time.Location, styles map[timeline.State]int) error {
	mechanic := ""
	if b.Mechanic != nil {
		mechanic = b.Mechanic.Name
	}
	values := []interface{}{
		b.ID,
		b.CustomerName,
		b.ServiceName,
		mechanic,
		b.Status.String(),
		b.ScheduledAt.In(loc).Format(cellTimeLayout),
	}

	tl := timeline.Build(b.StatusHistory, b.Status, timeline.Options{
		Variant:  timeline.VariantActive,
		Layout:   cellTimeLayout,
		Location: loc,
	})
	for _, step := range tl.Steps {
		values = append(values, step.TimeLabel)
	}

	start, _ := excelize.CoordinatesToCellName(1, row)
	if err := f.SetSheetRow(SheetName, start, &values); err != nil {
		return fmt.Errorf("error writing row %d: %w", row, err)
	}

	for i, step := range tl.Steps {
		style, ok := styles[step.State]
		if !ok {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(len(baseHeaders)+i+1, row)
		if err := f.SetCellStyle(SheetName, cell, cell, style); err != nil {
			return err
		}
	}
	return nil
}

// WriteBookings streams the workbook as XLSX.
func WriteBookings(w io.Writer, bookings []*models.Booking, loc *time.Location) error {
	f, err := BookingsWorkbook(bookings, loc)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteTo(w)
	return err
}

// FileName names an export for the given range.
func FileName(from, to time.Time) string {
	return fmt.Sprintf("bookings_%s_to_%s.xlsx", from.Format("2006-01-02"), to.Format("2006-01-02"))
}

// SaveBookings writes the workbook into dir and returns the file path.
func SaveBookings(dir string, from, to time.Time, bookings []*models.Booking, loc *time.Location) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}
	f, err := BookingsWorkbook(bookings, loc)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(dir, FileName(from, to))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return path, nil
}
