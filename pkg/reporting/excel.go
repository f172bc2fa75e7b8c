package reporting

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/futures-guardian/internal/risk"
)

const (
	summarySheet   = "Summary"
	exposureSheet  = "Exposures"
	stressSheet    = "Stress Tests"
	varSheet       = "VaR"
	timestampStyle = "2006-01-02 15:04:05 MST"
)

// DefaultExcelReporter implements Excel output functionality
type DefaultExcelReporter struct{}

// NewDefaultExcelReporter creates a new Excel reporter
func NewDefaultExcelReporter() *DefaultExcelReporter {
	return &DefaultExcelReporter{}
}

// WriteRiskWorkbook writes a summary sheet plus one sheet each for exposures,
// stress results and VaR. Sections with no data are left out.
func (r *DefaultExcelReporter) WriteRiskWorkbook(wb RiskWorkbook, path string) error {
	if err := NewDefaultPathManager().EnsureDirectoryExists(path); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	fx := excelize.NewFile()
	defer fx.Close()

	fx.SetSheetName(fx.GetSheetName(0), summarySheet)

	styles, err := r.createExcelStyles(fx)
	if err != nil {
		return err
	}

	if err := r.writeSummarySheet(fx, wb, styles); err != nil {
		return err
	}
	if len(wb.Exposures) > 0 {
		if err := r.writeExposureSheet(fx, wb.Exposures, styles); err != nil {
			return err
		}
	}
	if wb.Stress != nil {
		if err := r.writeStressSheet(fx, *wb.Stress, styles); err != nil {
			return err
		}
	}
	if len(wb.VaR) > 0 {
		if err := r.writeVaRSheet(fx, wb.VaR, wb.Equity, styles); err != nil {
			return err
		}
	}

	return fx.SaveAs(path)
}

func (r *DefaultExcelReporter) createExcelStyles(fx *excelize.File) (ExcelStyles, error) {
	var styles ExcelStyles
	var err error

	lightBorder := []excelize.Border{
		{Type: "left", Color: "E0E0E0", Style: 1},
		{Type: "right", Color: "E0E0E0", Style: 1},
		{Type: "bottom", Color: "E0E0E0", Style: 1},
	}

	// Header style - Dark slate background with white text
	styles.HeaderStyle, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return styles, err
	}

	styles.CurrencyStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    lightBorder,
	})
	if err != nil {
		return styles, err
	}

	styles.PercentStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    10,
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    lightBorder,
	})
	if err != nil {
		return styles, err
	}

	styles.BaseStyle, err = fx.NewStyle(&excelize.Style{Border: lightBorder})
	if err != nil {
		return styles, err
	}

	statusFill := func(color string) (int, error) {
		return fx.NewStyle(&excelize.Style{
			Font:   &excelize.Font{Bold: true},
			Fill:   excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
			Border: lightBorder,
		})
	}
	if styles.PassStyle, err = statusFill("E6FFE6"); err != nil {
		return styles, err
	}
	if styles.WarningStyle, err = statusFill("FFF4CC"); err != nil {
		return styles, err
	}
	if styles.FailStyle, err = statusFill("FFE0E0"); err != nil {
		return styles, err
	}

	styles.SummaryStyle, err = fx.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true, Size: 11},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"F0F0F0"}, Pattern: 1},
		Border: lightBorder,
	})
	return styles, err
}

func (r *DefaultExcelReporter) writeHeader(fx *excelize.File, sheet string, headers []string, styles ExcelStyles) error {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := fx.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := fx.SetCellStyle(sheet, "A1", last, styles.HeaderStyle); err != nil {
		return err
	}
	return fx.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

// writeRow writes values starting at column A, styling each cell by its column
func (r *DefaultExcelReporter) writeRow(fx *excelize.File, sheet string, row int, values []interface{}, cellStyles []int) error {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		if err := fx.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
		if i < len(cellStyles) && cellStyles[i] != 0 {
			if err := fx.SetCellStyle(sheet, cell, cell, cellStyles[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *DefaultExcelReporter) writeSummarySheet(fx *excelize.File, wb RiskWorkbook, styles ExcelStyles) error {
	generated := wb.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}

	rows := [][]interface{}{
		{"Generated", generated.Format(timestampStyle)},
		{"Equity", wb.Equity},
		{"Gross Notional", wb.Exposures.GrossNotional()},
		{"Net Delta", wb.Exposures.NetDelta()},
		{"Margin Used", wb.Exposures.TotalMargin()},
	}
	if wb.Stress != nil {
		rows = append(rows,
			[]interface{}{"Scenarios", wb.Stress.TotalScenarios},
			[]interface{}{"Worst Scenario", wb.Stress.WorstScenario},
			[]interface{}{"Worst PnL", wb.Stress.WorstPnL},
			[]interface{}{"Total Margin Call", wb.Stress.TotalMarginCall},
		)
	}

	for i, row := range rows {
		valueStyle := styles.BaseStyle
		if _, ok := row[1].(float64); ok {
			valueStyle = styles.CurrencyStyle
		}
		if err := r.writeRow(fx, summarySheet, i+1, row, []int{styles.SummaryStyle, valueStyle}); err != nil {
			return err
		}
	}
	return fx.SetColWidth(summarySheet, "A", "B", 22)
}

func (r *DefaultExcelReporter) writeExposureSheet(fx *excelize.File, exposures risk.Exposures, styles ExcelStyles) error {
	if _, err := fx.NewSheet(exposureSheet); err != nil {
		return err
	}
	if err := r.writeHeader(fx, exposureSheet, []string{"Symbol", "Product", "Position", "Notional", "Delta", "Margin"}, styles); err != nil {
		return err
	}
	cellStyles := []int{styles.BaseStyle, styles.BaseStyle, styles.BaseStyle, styles.CurrencyStyle, styles.CurrencyStyle, styles.CurrencyStyle}
	for i, e := range exposures {
		values := []interface{}{e.Symbol, e.Product, e.SignedPosition, e.NotionalValue, e.Delta, e.MarginUsed}
		if err := r.writeRow(fx, exposureSheet, i+2, values, cellStyles); err != nil {
			return err
		}
	}
	return fx.SetColWidth(exposureSheet, "A", "F", 16)
}

func (r *DefaultExcelReporter) writeStressSheet(fx *excelize.File, summary risk.StressSummary, styles ExcelStyles) error {
	if _, err := fx.NewSheet(stressSheet); err != nil {
		return err
	}
	headers := []string{"Scenario", "Type", "Shock", "PnL", "PnL %", "Impact", "Margin Call", "Positions", "Action", "Status"}
	if err := r.writeHeader(fx, stressSheet, headers, styles); err != nil {
		return err
	}

	for i, res := range summary.Results {
		statusStyle := styles.PassStyle
		switch res.Status() {
		case risk.StatusWarning:
			statusStyle = styles.WarningStyle
		case risk.StatusFail:
			statusStyle = styles.FailStyle
		}
		values := []interface{}{
			res.Scenario.Name, string(res.Scenario.Type), res.Scenario.PriceShock,
			res.PnL, res.PnLPct, string(res.ImpactLevel), res.MarginCallAmount,
			res.PositionsAffected, string(res.RecommendedAction), string(res.Status()),
		}
		cellStyles := []int{
			styles.BaseStyle, styles.BaseStyle, styles.PercentStyle,
			styles.CurrencyStyle, styles.PercentStyle, styles.BaseStyle, styles.CurrencyStyle,
			styles.BaseStyle, styles.BaseStyle, statusStyle,
		}
		if err := r.writeRow(fx, stressSheet, i+2, values, cellStyles); err != nil {
			return err
		}
	}
	return fx.SetColWidth(stressSheet, "A", "J", 16)
}

func (r *DefaultExcelReporter) writeVaRSheet(fx *excelize.File, results []risk.VaRResult, equity float64, styles ExcelStyles) error {
	if _, err := fx.NewSheet(varSheet); err != nil {
		return err
	}
	if err := r.writeHeader(fx, varSheet, []string{"Method", "Confidence", "VaR", "VaR Amount", "Expected Shortfall", "Samples"}, styles); err != nil {
		return err
	}
	cellStyles := []int{styles.BaseStyle, styles.PercentStyle, styles.PercentStyle, styles.CurrencyStyle, styles.PercentStyle, styles.BaseStyle}
	for i, res := range results {
		values := []interface{}{string(res.Method), res.ConfidenceLevel, res.ValueAtRisk, res.ValueAtRisk * equity, res.ExpectedShortfall, res.SampleSize}
		if err := r.writeRow(fx, varSheet, i+2, values, cellStyles); err != nil {
			return err
		}
	}
	return fx.SetColWidth(varSheet, "A", "F", 18)
}

// WriteRiskWorkbook writes wb to path with the default reporter
func WriteRiskWorkbook(wb RiskWorkbook, path string) error {
	return NewDefaultExcelReporter().WriteRiskWorkbook(wb, path)
}
