package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"

	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/models"
)

// PDFExporter renders invoices into a printable PDF document.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// RenderInvoice produces the PDF bytes for a single invoice.
func (e *PDFExporter) RenderInvoice(inv models.InvoiceDetail) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, "INVOICE", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	header := [][2]string{
		{"Invoice Number", inv.InvoiceNumber},
		{"Invoice Date", inv.InvoiceDate.Format("2006-01-02")},
		{"Due Date", inv.DueDate.Format("2006-01-02")},
		{"Organization", inv.OrganizationName},
		{"Course", fmt.Sprintf("%s (%s)", inv.CourseTypeName, inv.CourseNumber)},
	}
	for _, row := range header {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(45, 7, row[0], "", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 7, row[1], "", 1, "", false, 0, "")
	}
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(90, 8, "Description", "1", 0, "", false, 0, "")
	pdf.CellFormat(30, 8, "Students", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 8, "Rate", "1", 0, "R", false, 0, "")
	pdf.CellFormat(30, 8, "Amount", "1", 1, "R", false, 0, "")

	rate := "-"
	if inv.AttendedCount > 0 {
		rate = inv.Amount.DivRound(decimal.NewFromInt(int64(inv.AttendedCount)), 2).StringFixed(2)
	}
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(90, 8, "Training attendance", "1", 0, "", false, 0, "")
	pdf.CellFormat(30, 8, fmt.Sprintf("%d", inv.AttendedCount), "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 8, rate, "1", 0, "R", false, 0, "")
	pdf.CellFormat(30, 8, inv.Amount.StringFixed(2), "1", 1, "R", false, 0, "")

	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(150, 9, "Total Due", "1", 0, "R", false, 0, "")
	pdf.CellFormat(30, 9, inv.Amount.StringFixed(2), "1", 1, "R", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render invoice pdf: %w", err)
	}
	return buf.Bytes(), nil
}
