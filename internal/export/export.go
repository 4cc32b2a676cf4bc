// Package export renders a session's story to PDF.
package export

import (
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"

	"github.com/tatianab/jianghu/internal/models"
)

const family = "story"

// WritePDF writes a title page followed by the player's actions and the
// narrator's replies in log order. System annotations are left out.
//
// CJK text needs a TrueType font with the glyphs: pass its path as
// fontPath. Without one the built-in Helvetica is used and characters it
// cannot encode are lost.
func WritePDF(w io.Writer, s *models.GameSession, fontPath string) error {
	if s == nil {
		return fmt.Errorf("session is required")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := func(text string) string { return text }
	font := family
	if fontPath != "" {
		pdf.AddUTF8Font(family, "", fontPath)
	} else {
		font = "Helvetica"
		tr = pdf.UnicodeTranslatorFromDescriptor("")
	}
	p := s.State.Player
	pdf.SetTitle(p.Name, true)
	pdf.SetAuthor(p.Name, true)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)

	pdf.AddPage()
	pdf.SetFont(font, "", 28)
	pdf.Ln(60)
	pdf.CellFormat(0, 14, tr(p.Name), "", 1, "C", false, 0, "")
	pdf.SetFont(font, "", 14)
	if p.Title != "" {
		pdf.CellFormat(0, 10, tr(p.Title), "", 1, "C", false, 0, "")
	}
	if loc := s.State.World.Location; loc != "" {
		pdf.CellFormat(0, 10, tr(loc), "", 1, "C", false, 0, "")
	}
	pdf.CellFormat(0, 10, tr(fmt.Sprintf("第 %d 回", s.State.Turn)), "", 1, "C", false, 0, "")

	pdf.AddPage()
	for _, entry := range s.Narrative {
		switch entry.Role {
		case models.RoleUser:
			pdf.SetFont(font, "", 11)
			pdf.SetTextColor(110, 110, 110)
			pdf.MultiCell(0, 6, tr("> "+entry.Text), "", "L", false)
		case models.RoleAssistant:
			pdf.SetFont(font, "", 12)
			pdf.SetTextColor(0, 0, 0)
			pdf.MultiCell(0, 7, tr(entry.Text), "", "L", false)
		default:
			continue
		}
		pdf.Ln(3)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return pdf.Output(w)
}
