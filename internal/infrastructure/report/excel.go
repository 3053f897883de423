package report

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/haowenli/ai-call-agent/internal/domain/entity"
	"github.com/haowenli/ai-call-agent/internal/pricing"
)

// ExcelExporter implements port.ReportExporter by writing a price report
// workbook per task.
type ExcelExporter struct {
	outputDir string
	logger    *zap.Logger
}

// NewExcelExporter creates a new Excel exporter
func NewExcelExporter(outputDir string, logger *zap.Logger) *ExcelExporter {
	return &ExcelExporter{
		outputDir: outputDir,
		logger:    logger,
	}
}

// ExportPriceReport writes the extracted prices and fees of a task to an
// xlsx file and returns the file path.
func (e *ExcelExporter) ExportPriceReport(ctx context.Context, task *entity.CallTask, prices []entity.ExtractedPrice, fees []entity.Fee) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)

	e.setCell(f, sheet, "A1", "Call price report")
	e.setCell(f, sheet, "A2", "Request")
	e.setCell(f, sheet, "B2", task.RawInstruction)
	e.setCell(f, sheet, "A3", "Business")
	e.setCell(f, sheet, "B3", task.BusinessName)
	e.setCell(f, sheet, "A4", "Generated")
	e.setCell(f, sheet, "B4", time.Now().Format("2006-01-02 15:04"))

	headers := []string{"Item", "Price", "Currency", "Type", "Conditions", "Confidence"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 6)
		if err != nil {
			return "", fmt.Errorf("build header cell: %w", err)
		}
		e.setCell(f, sheet, cell, h)
	}

	row := 7
	for _, p := range prices {
		e.setCell(f, sheet, fmt.Sprintf("A%d", row), p.Item)
		e.setCell(f, sheet, fmt.Sprintf("B%d", row), fmt.Sprintf("%.2f", p.Price))
		e.setCell(f, sheet, fmt.Sprintf("C%d", row), p.Currency)
		e.setCell(f, sheet, fmt.Sprintf("D%d", row), string(p.PriceType))
		e.setCell(f, sheet, fmt.Sprintf("E%d", row), strings.Join(p.Conditions, "; "))
		e.setCell(f, sheet, fmt.Sprintf("F%d", row), fmt.Sprintf("%.2f", p.Confidence))
		row++
	}

	if len(fees) > 0 {
		row++
		e.setCell(f, sheet, fmt.Sprintf("A%d", row), "Fees")
		row++
		for _, fee := range fees {
			e.setCell(f, sheet, fmt.Sprintf("A%d", row), fee.Name)
			e.setCell(f, sheet, fmt.Sprintf("B%d", row), fmt.Sprintf("%.2f", fee.Amount))
			row++
		}
	}

	if len(prices) > 0 {
		row++
		total := pricing.CalculateTotal(prices[0].Price, fees)
		e.setCell(f, sheet, fmt.Sprintf("A%d", row), "Estimated total (best quote + fees)")
		e.setCell(f, sheet, fmt.Sprintf("B%d", row), fmt.Sprintf("%.2f", total))
	}

	outputPath := filepath.Join(e.outputDir, fmt.Sprintf("price_report_%s.xlsx", task.ID))
	if err := f.SaveAs(outputPath); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}

	e.logger.Info("Price report exported",
		zap.String("task_id", task.ID),
		zap.String("output_path", outputPath),
		zap.Int("price_count", len(prices)))

	return outputPath, nil
}

// setCell sets a cell value, logging instead of failing on errors
func (e *ExcelExporter) setCell(f *excelize.File, sheet, cell, value string) {
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		e.logger.Warn("Failed to set cell value",
			zap.String("sheet", sheet),
			zap.String("cell", cell),
			zap.Error(err))
	}
}
