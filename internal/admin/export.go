package admin

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"washbook/internal/models"
)

const sheetName = "Reservations"

var exportColumns = []string{"ID", "Email", "Room", "Date", "Time", "Machine", "Created"}

func writeWorkbook(w io.Writer, list []models.Reservation, dateLayout string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	for i, col := range exportColumns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, col); err != nil {
			return err
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(exportColumns), 1)
		_ = f.SetCellStyle(sheetName, "A1", last, bold)
	}

	for i, r := range list {
		row := []any{
			r.ID,
			r.Email,
			r.Room,
			models.FormatDay(r.Date, dateLayout),
			r.Time,
			r.Machine,
			r.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(sheetName, "B", "B", 28); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
