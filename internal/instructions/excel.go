package instructions

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ExcelGenerator генератор рабочих книг для зональных офисов
type ExcelGenerator struct{}

// NewExcelGenerator создаёт новый генератор
func NewExcelGenerator() *ExcelGenerator {
	return &ExcelGenerator{}
}

// Generate рендерит пакет в xlsx: один лист на команду, сводный лист
// первым.
func (g *ExcelGenerator) Generate(ctx context.Context, packet *Packet) ([]byte, error) {
	if packet == nil {
		return nil, fmt.Errorf("packet is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"2980B9"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})

	g.writeSummary(f, headerStyle, packet)

	byTeam := make(map[string][]*Worksheet)
	var teamOrder []string
	for _, ws := range packet.Worksheets {
		if _, seen := byTeam[ws.TeamID]; !seen {
			teamOrder = append(teamOrder, ws.TeamID)
		}
		byTeam[ws.TeamID] = append(byTeam[ws.TeamID], ws)
	}
	for _, teamID := range teamOrder {
		g.writeTeamSheet(f, headerStyle, teamID, byTeam[teamID])
	}

	_ = f.DeleteSheet("Sheet1")

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *ExcelGenerator) writeSummary(f *excelize.File, headerStyle int, packet *Packet) {
	sheet := "Summary"
	_, _ = f.NewSheet(sheet)

	f.SetCellValue(sheet, cell(0, 1), fmt.Sprintf("Weekly Field Packet %d-W%02d", packet.Year, packet.Week))
	_ = f.MergeCell(sheet, cell(0, 1), cell(3, 1))

	row := 3
	headers := []string{"Team", "Date", "Operations", "Instructions"}
	for i, h := range headers {
		f.SetCellValue(sheet, cell(i, row), h)
	}
	_ = f.SetCellStyle(sheet, cell(0, row), cell(len(headers)-1, row), headerStyle)
	row++

	for _, ws := range packet.Worksheets {
		f.SetCellValue(sheet, cell(0, row), ws.TeamID)
		f.SetCellValue(sheet, cell(1, row), ws.Date.Format("2006-01-02"))
		f.SetCellValue(sheet, cell(2, row), len(ws.Operations))
		f.SetCellValue(sheet, cell(3, row), len(ws.Instructions))
		row++
	}
}

func (g *ExcelGenerator) writeTeamSheet(f *excelize.File, headerStyle int, teamID string, sheets []*Worksheet) {
	sheet := teamID
	_, _ = f.NewSheet(sheet)

	row := 1
	for _, ws := range sheets {
		f.SetCellValue(sheet, cell(0, row), ws.Date.Format("Monday 02 Jan 2006"))
		_ = f.MergeCell(sheet, cell(0, row), cell(6, row))
		_ = f.SetCellStyle(sheet, cell(0, row), cell(6, row), headerStyle)
		row++

		headers := []string{"Seq", "Gate", "Start", "End", "Target %", "Flow before", "Flow after"}
		for i, h := range headers {
			f.SetCellValue(sheet, cell(i, row), h)
		}
		row++

		for _, op := range ws.Operations {
			f.SetCellValue(sheet, cell(0, row), op.Sequence)
			f.SetCellValue(sheet, cell(1, row), op.GateID)
			f.SetCellValue(sheet, cell(2, row), op.PlannedStart.Format("15:04"))
			f.SetCellValue(sheet, cell(3, row), op.PlannedEnd.Format("15:04"))
			f.SetCellValue(sheet, cell(4, row), op.TargetOpeningPct)
			f.SetCellValue(sheet, cell(5, row), op.ExpectedFlowBeforeM3s)
			f.SetCellValue(sheet, cell(6, row), op.ExpectedFlowAfterM3s)
			row++
		}

		for _, in := range ws.Instructions {
			f.SetCellValue(sheet, cell(0, row), "INSTRUCTION")
			f.SetCellValue(sheet, cell(1, row), in.GateID)
			f.SetCellValue(sheet, cell(2, row), fmt.Sprintf("%.0f%% -> %.0f%%", in.CurrentOpeningPct, in.TargetOpeningPct))
			f.SetCellValue(sheet, cell(3, row), in.Reason)
			row++
		}
		row++
	}
}

// cell возвращает адрес ячейки по индексу колонки (0 -> A)
func cell(colIndex, row int) string {
	name := ""
	for {
		name = string(rune('A'+colIndex%26)) + name
		colIndex = colIndex/26 - 1
		if colIndex < 0 {
			break
		}
	}
	return fmt.Sprintf("%s%d", name, row)
}
