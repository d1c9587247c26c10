package api

import (
	"fmt"
	"io"

	"github.com/warp/cost-spread/spread"
	"github.com/xuri/excelize/v2"
)

const scheduleSheet = "Spread"

// writeScheduleXLSX renders a source line's spread lines as a workbook:
// one header row, one row per line, then a total row.
func writeScheduleXLSX(w io.Writer, line spread.SourceLine, lines []spread.SpreadLine) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", scheduleSheet); err != nil {
		return err
	}

	f.SetCellValue(scheduleSheet, "A1", "Source line")
	f.SetCellValue(scheduleSheet, "B1", string(line.ID))
	f.SetCellValue(scheduleSheet, "C1", line.Description)

	// Add headers
	f.SetCellValue(scheduleSheet, "A3", "Period")
	f.SetCellValue(scheduleSheet, "B3", "Due date")
	f.SetCellValue(scheduleSheet, "C3", "Amount")
	f.SetCellValue(scheduleSheet, "D3", "State")
	f.SetCellValue(scheduleSheet, "E3", "Move")

	// Add data
	row := 4
	for _, l := range lines {
		r := fmt.Sprint(row)
		f.SetCellValue(scheduleSheet, "A"+r, l.Index+1)
		f.SetCellValue(scheduleSheet, "B"+r, l.DueDate.String())
		f.SetCellValue(scheduleSheet, "C"+r, l.Amount.InexactFloat64())
		f.SetCellValue(scheduleSheet, "D"+r, string(l.State))
		f.SetCellValue(scheduleSheet, "E"+r, string(l.MoveID))
		row++
	}

	r := fmt.Sprint(row)
	f.SetCellValue(scheduleSheet, "B"+r, "Total")
	if len(lines) > 0 {
		if err := f.SetCellFormula(scheduleSheet, "C"+r, fmt.Sprintf("SUM(C4:C%d)", row-1)); err != nil {
			return err
		}
	} else {
		f.SetCellValue(scheduleSheet, "C"+r, 0)
	}

	return f.Write(w)
}
