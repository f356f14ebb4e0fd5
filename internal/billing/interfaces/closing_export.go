package interfaces

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	billing "residence-cloud/internal/billing/domain"
)

func closingLabel(record *billing.ClosingRecord) string {
	if record.Type == billing.ClosingTypeAnnual {
		return fmt.Sprintf("%04d", record.Period.Year)
	}
	return record.Period.Key()
}

func sortedFunds(record *billing.ClosingRecord) []string {
	names := make([]string, 0, len(record.FundSnapshot))
	for name := range record.FundSnapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildClosingPDF renders a one-page summary of a closing record.
func BuildClosingPDF(record *billing.ClosingRecord) ([]byte, error) {
	if record == nil {
		return nil, billing.ErrNilClosing
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Period Closing")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Closing: %s", record.ID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Type: %s", record.Type))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s", closingLabel(record)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Closed: %s", record.CreatedAt.Format(time.RFC3339)))
	pdf.Ln(8)

	pdf.Cell(0, 6, fmt.Sprintf("Income from charges: %s", record.Income.ChargesTotal.StringFixed(2)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Other income: %s", record.Income.Other.StringFixed(2)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total income: %s", record.Income.Total.StringFixed(2)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total expenses: %s", record.Expenses.Total.StringFixed(2)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Balance: %s", record.Balance.StringFixed(2)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Charges paid / unpaid: %d / %d", record.PaidChargeCount, record.PendingChargeCount))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(80, 6, "Concept", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Category", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Amount", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, line := range record.Expenses.Breakdown {
		pdf.CellFormat(80, 6, line.Concept, "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, line.Category, "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, line.Amount.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	if len(record.FundSnapshot) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(80, 6, "Fund", "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, "Balance", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for _, name := range sortedFunds(record) {
			pdf.CellFormat(80, 6, name, "1", 0, "L", false, 0, "")
			pdf.CellFormat(40, 6, record.FundSnapshot[name].StringFixed(2), "1", 0, "R", false, 0, "")
			pdf.Ln(-1)
		}
	}

	if next := record.NextYearGeneration; next != nil {
		pdf.Ln(4)
		pdf.Cell(0, 6, fmt.Sprintf("Next year: %s", next.Message))
		pdf.Ln(5)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildClosingXLSX renders a workbook with summary, expenses and funds sheets.
func BuildClosingXLSX(record *billing.ClosingRecord) ([]byte, error) {
	if record == nil {
		return nil, billing.ErrNilClosing
	}
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	expensesSheet := "expenses"
	fundsSheet := "funds"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(expensesSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(fundsSheet); err != nil {
		return nil, err
	}

	summary := [][2]any{
		{"Closing", record.ID},
		{"Type", string(record.Type)},
		{"Period", closingLabel(record)},
		{"Closed", record.CreatedAt.Format(time.RFC3339)},
		{"Income from charges", record.Income.ChargesTotal.InexactFloat64()},
		{"Other income", record.Income.Other.InexactFloat64()},
		{"Total income", record.Income.Total.InexactFloat64()},
		{"Total expenses", record.Expenses.Total.InexactFloat64()},
		{"Balance", record.Balance.InexactFloat64()},
		{"Charges paid", record.PaidChargeCount},
		{"Charges unpaid", record.PendingChargeCount},
	}
	if next := record.NextYearGeneration; next != nil {
		summary = append(summary, [2]any{"Next year", next.Message})
	}
	_ = f.SetCellValue(summarySheet, "A1", "Period Closing")
	for i, row := range summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+3), row[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+3), row[1])
	}

	_ = f.SetCellValue(expensesSheet, "A1", "ID")
	_ = f.SetCellValue(expensesSheet, "B1", "Concept")
	_ = f.SetCellValue(expensesSheet, "C1", "Category")
	_ = f.SetCellValue(expensesSheet, "D1", "Amount")
	for i, line := range record.Expenses.Breakdown {
		row := i + 2
		_ = f.SetCellValue(expensesSheet, fmt.Sprintf("A%d", row), line.ID)
		_ = f.SetCellValue(expensesSheet, fmt.Sprintf("B%d", row), line.Concept)
		_ = f.SetCellValue(expensesSheet, fmt.Sprintf("C%d", row), line.Category)
		_ = f.SetCellValue(expensesSheet, fmt.Sprintf("D%d", row), line.Amount.InexactFloat64())
	}

	_ = f.SetCellValue(fundsSheet, "A1", "Fund")
	_ = f.SetCellValue(fundsSheet, "B1", "Balance")
	for i, name := range sortedFunds(record) {
		row := i + 2
		_ = f.SetCellValue(fundsSheet, fmt.Sprintf("A%d", row), name)
		_ = f.SetCellValue(fundsSheet, fmt.Sprintf("B%d", row), record.FundSnapshot[name].InexactFloat64())
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
