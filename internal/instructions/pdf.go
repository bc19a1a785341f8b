package instructions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/border"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/orientation"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"irrigation/internal/schedule"
)

// PDFOptions задаёт параметры страницы
type PDFOptions struct {
	PageSize          string // A4, Letter
	Orientation       string // portrait, landscape
	MarginTop         float64
	MarginBottom      float64
	MarginLeft        float64
	MarginRight       float64
	EnablePageNumbers bool
}

// DefaultPDFOptions возвращает параметры страницы по умолчанию
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{
		PageSize:          "A4",
		Orientation:       "portrait",
		MarginTop:         15,
		MarginLeft:        15,
		MarginRight:       15,
		EnablePageNumbers: true,
	}
}

// PDFGenerator генератор печатных полевых пакетов
type PDFGenerator struct {
	opts PDFOptions
}

// NewPDFGenerator создаёт новый генератор
func NewPDFGenerator() *PDFGenerator {
	return NewPDFGeneratorWithOptions(DefaultPDFOptions())
}

// NewPDFGeneratorWithOptions создаёт генератор с параметрами страницы
func NewPDFGeneratorWithOptions(opts PDFOptions) *PDFGenerator {
	def := DefaultPDFOptions()
	if opts.MarginTop <= 0 {
		opts.MarginTop = def.MarginTop
	}
	if opts.MarginLeft <= 0 {
		opts.MarginLeft = def.MarginLeft
	}
	if opts.MarginRight <= 0 {
		opts.MarginRight = def.MarginRight
	}
	return &PDFGenerator{opts: opts}
}

// Стили
var (
	headerColor    = &props.Color{Red: 44, Green: 62, Blue: 80}    // #2c3e50
	accentColor    = &props.Color{Red: 41, Green: 128, Blue: 185}  // #2980b9
	warnColor      = &props.Color{Red: 231, Green: 76, Blue: 60}   // #e74c3c
	lightGrayColor = &props.Color{Red: 236, Green: 240, Blue: 241} // #ecf0f1
	grayColor      = &props.Color{Red: 127, Green: 140, Blue: 141} // #7f8c8d

	titleStyle = props.Text{
		Size:  22,
		Style: fontstyle.Bold,
		Align: align.Center,
		Color: headerColor,
	}

	sectionStyle = props.Text{
		Size:  14,
		Style: fontstyle.Bold,
		Color: headerColor,
		Top:   4,
	}

	normalStyle = props.Text{Size: 10}

	boldStyle = props.Text{Size: 10, Style: fontstyle.Bold}

	smallStyle = props.Text{Size: 8, Color: grayColor}

	tableHeaderStyle = &props.Cell{BackgroundColor: accentColor}

	tableHeaderTextStyle = props.Text{
		Size:  9,
		Style: fontstyle.Bold,
		Color: &props.Color{Red: 255, Green: 255, Blue: 255},
		Align: align.Center,
	}

	tableCellStyle = &props.Cell{
		BorderType:  border.Bottom,
		BorderColor: lightGrayColor,
	}

	tableCellTextStyle = props.Text{Size: 9, Align: align.Center}
)

// Generate рендерит пакет в PDF
func (g *PDFGenerator) Generate(ctx context.Context, packet *Packet) ([]byte, error) {
	if packet == nil {
		return nil, fmt.Errorf("packet is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	builder := config.NewBuilder().
		WithLeftMargin(g.opts.MarginLeft).
		WithTopMargin(g.opts.MarginTop).
		WithRightMargin(g.opts.MarginRight)
	if g.opts.MarginBottom > 0 {
		builder = builder.WithBottomMargin(g.opts.MarginBottom)
	}
	if g.opts.EnablePageNumbers {
		builder = builder.WithPageNumber()
	}
	if strings.EqualFold(g.opts.PageSize, "letter") {
		builder = builder.WithPageSize(pagesize.Letter)
	}
	if strings.EqualFold(g.opts.Orientation, "landscape") {
		builder = builder.WithOrientation(orientation.Horizontal)
	}

	m := maroto.New(builder.Build())
	g.addHeader(m, packet)

	for _, ws := range packet.Worksheets {
		g.addWorksheet(m, ws)
	}
	if len(packet.Worksheets) == 0 {
		m.AddRow(8, text.NewCol(12, "No field work remains on this schedule.", normalStyle))
	}

	g.addFooter(m)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}
	return doc.GetBytes(), nil
}

func (g *PDFGenerator) addHeader(m core.Maroto, packet *Packet) {
	m.AddRow(14,
		text.NewCol(12, fmt.Sprintf("Weekly Field Packet - %d Week %d", packet.Year, packet.Week), titleStyle),
	)
	m.AddRow(4, line.NewCol(12))
	m.AddRow(6,
		text.NewCol(6, fmt.Sprintf("Schedule: %s", packet.ScheduleID), smallStyle),
		text.NewCol(6, fmt.Sprintf("Generated: %s", packet.GeneratedAt.Format("2006-01-02 15:04")),
			props.Text{Size: 8, Color: grayColor, Align: align.Right}),
	)
	m.AddRow(6)
}

func (g *PDFGenerator) addWorksheet(m core.Maroto, ws *Worksheet) {
	teamName := ws.TeamID
	if ws.Team != nil && ws.Team.Name != "" {
		teamName = fmt.Sprintf("%s (%s)", ws.Team.Name, ws.TeamID)
	}
	m.AddRow(10,
		text.NewCol(12, fmt.Sprintf("%s - %s", teamName, ws.Date.Format("Mon 02 Jan")), sectionStyle),
	)
	m.AddRow(2, line.NewCol(12, props.Line{Color: accentColor}))
	m.AddRow(3)

	m.AddRow(8,
		text.NewCol(1, "#", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
		text.NewCol(2, "Gate", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
		text.NewCol(2, "Start", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
		text.NewCol(2, "End", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
		text.NewCol(2, "Target %", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
		text.NewCol(3, "Flow m3/s", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
	)
	for _, op := range ws.Operations {
		m.AddRow(6,
			text.NewCol(1, fmt.Sprintf("%d", op.Sequence), tableCellTextStyle).WithStyle(tableCellStyle),
			text.NewCol(2, op.GateID, tableCellTextStyle).WithStyle(tableCellStyle),
			text.NewCol(2, op.PlannedStart.Format("15:04"), tableCellTextStyle).WithStyle(tableCellStyle),
			text.NewCol(2, op.PlannedEnd.Format("15:04"), tableCellTextStyle).WithStyle(tableCellStyle),
			text.NewCol(2, fmt.Sprintf("%.0f", op.TargetOpeningPct), tableCellTextStyle).WithStyle(tableCellStyle),
			text.NewCol(3, fmt.Sprintf("%.2f -> %.2f", op.ExpectedFlowBeforeM3s, op.ExpectedFlowAfterM3s),
				tableCellTextStyle).WithStyle(tableCellStyle),
		)
	}

	for _, in := range ws.Instructions {
		g.addInstruction(m, in)
	}
	m.AddRow(6)
}

func (g *PDFGenerator) addInstruction(m core.Maroto, in *schedule.FieldInstruction) {
	m.AddRow(7,
		text.NewCol(12, fmt.Sprintf("Gate %s: %s", in.GateID, in.Reason), boldStyle),
	)
	m.AddRow(5,
		text.NewCol(12, fmt.Sprintf("Set opening %.0f%% -> %.0f%% (expected flow change %+.2f m3/s)",
			in.CurrentOpeningPct, in.TargetOpeningPct, in.ExpectedDeltaFlowM3s), normalStyle),
	)
	for _, check := range in.SafetyChecks {
		m.AddRow(4, text.NewCol(12, "[ ] "+check, smallStyle))
	}
	for _, note := range in.CoordinationNotes {
		m.AddRow(4, text.NewCol(12, "! "+note, props.Text{Size: 8, Color: warnColor}))
	}
}

func (g *PDFGenerator) addFooter(m core.Maroto) {
	m.AddRow(8)
	m.AddRow(2, line.NewCol(12, props.Line{Color: lightGrayColor}))
	m.AddRow(6,
		text.NewCol(12,
			fmt.Sprintf("Irrigation scheme operations | %s", time.Now().Format("2006-01-02 15:04")),
			props.Text{Size: 8, Color: grayColor, Align: align.Center},
		),
	)
}
