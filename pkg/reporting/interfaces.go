package reporting

import (
	"time"

	"github.com/ducminhle1904/futures-guardian/internal/risk"
	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// Package reporting renders risk output for operators: terminal tables,
// CSV and Excel workbooks

// ConsoleReporter defines interface for terminal output
type ConsoleReporter interface {
	PrintStressSummary(summary risk.StressSummary)
	PrintVaR(results []risk.VaRResult, equity float64)
	PrintStatus(status Status)
}

// FileReporter defines interface for file output
type FileReporter interface {
	WriteStressCSV(summary risk.StressSummary, path string) error
	WriteRiskWorkbook(workbook RiskWorkbook, path string) error
}

// Status is the guardian state shown by PrintStatus
type Status struct {
	Mode            types.Mode
	Overridden      bool
	SnapshotVersion uint64
	SnapshotAge     time.Duration
	Triggers        []string
	Equity          float64
	MarginRatio     float64
}

// RiskWorkbook is everything written to one Excel report
type RiskWorkbook struct {
	GeneratedAt time.Time
	Equity      float64
	Exposures   risk.Exposures
	Stress      *risk.StressSummary
	VaR         []risk.VaRResult
}

// ExcelStyles holds Excel formatting styles
type ExcelStyles struct {
	HeaderStyle   int
	CurrencyStyle int
	PercentStyle  int
	BaseStyle     int
	PassStyle     int
	WarningStyle  int
	FailStyle     int
	SummaryStyle  int
}
