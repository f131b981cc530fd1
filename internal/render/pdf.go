package render

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/jwalitptl/prescription-api/internal/model"
)

// Page geometry in millimetres.
const (
	timestampY    = 50
	timestampX    = -70
	medicationsY  = 70
	patientBlockY = 200

	fontFamily = "Times"
)

// Document is everything printed on one prescription.
type Document struct {
	Doctor      *model.Doctor
	Patient     *model.Patient
	Medications []model.Medication
	CreatedAt   model.Timestamp
}

type Options struct {
	// Compress enables stream compression. Uncompressed output keeps the
	// text operators readable, which tests rely on.
	Compress bool
	// FlowPatientBlock moves the patient block to a new page when the
	// medication lines have already passed its fixed position. When false
	// the block is always drawn at the fixed offset, even over medications.
	FlowPatientBlock bool
}

// Render draws doc as a single A4 PDF. Inputs are not validated.
func Render(doc Document, opts Options) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(opts.Compress)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	doctor := doc.Doctor
	if doctor == nil {
		doctor = &model.Doctor{}
	}
	pdf.SetHeaderFunc(func() {
		if doctor.HospitalName == "" {
			return
		}
		pdf.SetFont(fontFamily, "B", 16)
		pdf.CellFormat(0, 10, tr(doctor.HospitalName), "", 1, "C", false, 0, "")
		pdf.SetFont(fontFamily, "B", 12)
		pdf.CellFormat(0, 8, tr(fmt.Sprintf("Doctor: %s | License: %s", doctor.Name, doctor.LicenseNumber)), "", 1, "C", false, 0, "")
		pdf.CellFormat(0, 8, tr("Address: "+doctor.HospitalAddress), "", 1, "C", false, 0, "")
		pdf.CellFormat(0, 8, tr("Contact: "+doctor.HospitalContact), "", 1, "C", false, 0, "")
		pdf.Ln(5)
		rule(pdf)
		pdf.Ln(5)
	})

	pdf.AddPage()

	pdf.SetY(timestampY)
	pdf.SetX(timestampX)
	pdf.SetFont(fontFamily, "I", 12)
	pdf.CellFormat(0, 10, doc.CreatedAt.String(), "", 1, "R", false, 0, "")

	pdf.SetY(medicationsY)
	pdf.Ln(5)
	pdf.SetFont(fontFamily, "", 12)
	for _, m := range doc.Medications {
		pdf.CellFormat(0, 10, tr(compositionLine(m)), "", 1, "C", false, 0, "")
		pdf.CellFormat(0, 10, tr(dosingLine(m)), "", 1, "C", false, 0, "")
		pdf.Ln(5)
		rule(pdf)
		pdf.Ln(5)
	}

	// GetY is relative to the current page, which may already be page two.
	if opts.FlowPatientBlock && pdf.GetY() > patientBlockY {
		pdf.AddPage()
	} else {
		pdf.SetY(patientBlockY)
	}
	patientBlock(pdf, tr, doc.Patient)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render prescription: %w", err)
	}
	return buf.Bytes(), nil
}

func compositionLine(m model.Medication) string {
	return fmt.Sprintf("R/ %s, %s, %s, %s", m.DrugName, m.DosageForm, m.Container, m.Quantity)
}

func dosingLine(m model.Medication) string {
	return fmt.Sprintf("S %s %s %s", m.Frequency, m.Dose, m.Note)
}

func patientBlock(pdf *fpdf.Fpdf, tr func(string) string, p *model.Patient) {
	if p == nil {
		p = &model.Patient{}
	}
	pdf.SetFont(fontFamily, "", 12)
	pdf.Ln(5)
	rule(pdf)
	pdf.Ln(5)
	pdf.CellFormat(0, 10, tr("Name    : "+p.Name), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 10, tr("Gender  : "+p.Gender), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 10, tr(fmt.Sprintf("Age     : %d years", p.Age)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 10, tr("Address : "+p.Address), "", 1, "L", false, 0, "")
}

// rule draws a full-width horizontal line at the current position.
func rule(pdf *fpdf.Fpdf) {
	pdf.CellFormat(0, 0, "", "T", 1, "C", false, 0, "")
}
