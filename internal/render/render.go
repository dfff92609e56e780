package render

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/fogleman/gg"
)

// Card faces are CR80 at 300 DPI.
const (
	cardWidth  = 1012
	cardHeight = 638
)

// CardData is the immutable payload snapshot a print job carries. Person
// and license values are rendered as-is; the renderer never reaches back
// into the applications module.
type CardData struct {
	JobNumber  string
	CardNumber string
	Template   string
	Person     map[string]string
	Licenses   []map[string]string
}

// Artifacts holds the five byte buffers the file store persists per job.
type Artifacts struct {
	FrontPNG    []byte
	BackPNG     []byte
	FrontPDF    []byte
	BackPDF     []byte
	CombinedPDF []byte
}

// Renderer produces card artifacts from a payload snapshot. Callers treat
// failures as retriable: the job stays queued and rendering is attempted
// again on next access.
type Renderer interface {
	Render(data CardData) (Artifacts, error)
}

// CardRenderer draws both card faces and wraps the same content into
// single-page PDFs.
type CardRenderer struct{}

func NewCardRenderer() *CardRenderer {
	return &CardRenderer{}
}

func (r *CardRenderer) Render(data CardData) (Artifacts, error) {
	var a Artifacts

	if data.CardNumber == "" {
		return a, fmt.Errorf("card number is required")
	}

	front, err := r.renderFront(data)
	if err != nil {
		return a, fmt.Errorf("failed to render front image: %w", err)
	}
	back, err := r.renderBack(data)
	if err != nil {
		return a, fmt.Errorf("failed to render back image: %w", err)
	}

	a.FrontPNG = front
	a.BackPNG = back
	a.FrontPDF = buildPDF(frontPDFLines(data))
	a.BackPDF = buildPDF(backPDFLines(data))
	a.CombinedPDF = buildPDF(frontPDFLines(data), backPDFLines(data))

	return a, nil
}

func (r *CardRenderer) renderFront(data CardData) ([]byte, error) {
	dc := gg.NewContext(cardWidth, cardHeight)

	dc.SetRGB255(245, 245, 240)
	dc.Clear()

	dc.SetRGB255(20, 60, 120)
	dc.DrawRectangle(0, 0, cardWidth, 90)
	dc.Fill()

	dc.SetRGB255(255, 255, 255)
	dc.DrawString("DRIVER'S LICENCE / PERMIS DE CONDUIRE", 30, 55)

	dc.SetRGB255(20, 20, 20)
	y := 140.0
	for _, key := range personFieldOrder(data.Person) {
		dc.DrawString(fmt.Sprintf("%s: %s", key, data.Person[key]), 30, y)
		y += 36
	}

	y += 12
	dc.SetRGB255(20, 60, 120)
	dc.DrawString("CATEGORIES", 30, y)
	y += 30
	dc.SetRGB255(20, 20, 20)
	for _, lic := range data.Licenses {
		line := fmt.Sprintf("%s  issued %s  expires %s",
			lic["category"], lic["issue_date"], lic["expiry_date"])
		if restrictions := lic["restrictions"]; restrictions != "" {
			line += "  [" + restrictions + "]"
		}
		dc.DrawString(line, 30, y)
		y += 30
	}

	dc.SetRGB255(90, 90, 90)
	dc.DrawString("CARD "+data.CardNumber, 30, cardHeight-30)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *CardRenderer) renderBack(data CardData) ([]byte, error) {
	dc := gg.NewContext(cardWidth, cardHeight)

	dc.SetRGB255(245, 245, 240)
	dc.Clear()

	dc.SetRGB255(20, 20, 20)
	dc.DrawString("CARD "+data.CardNumber, 30, 50)
	dc.DrawString("JOB "+data.JobNumber, 30, 90)

	// Deterministic bar pattern derived from the card number; the real
	// machine-readable barcode comes from the barcode collaborator.
	digest := sha256.Sum256([]byte(data.CardNumber))
	x := 30.0
	dc.SetLineWidth(3)
	for _, b := range digest {
		height := 80.0 + float64(b%120)
		dc.DrawLine(x, cardHeight-60, x, cardHeight-60-height)
		dc.Stroke()
		x += 9
		if x > cardWidth-30 {
			break
		}
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// personFieldOrder yields the person fields in a stable order so rendered
// bytes are deterministic for identical payloads.
func personFieldOrder(person map[string]string) []string {
	preferred := []string{"surname", "first_name", "birth_date", "id_number"}
	seen := make(map[string]bool, len(preferred))
	var keys []string
	for _, k := range preferred {
		if _, ok := person[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range person {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func frontPDFLines(data CardData) []string {
	lines := []string{
		"DRIVER'S LICENCE / PERMIS DE CONDUIRE",
		"CARD " + data.CardNumber,
		"",
	}
	for _, key := range personFieldOrder(data.Person) {
		lines = append(lines, fmt.Sprintf("%s: %s", key, data.Person[key]))
	}
	lines = append(lines, "", "CATEGORIES")
	for _, lic := range data.Licenses {
		lines = append(lines, fmt.Sprintf("%s  issued %s  expires %s",
			lic["category"], lic["issue_date"], lic["expiry_date"]))
	}
	return lines
}

func backPDFLines(data CardData) []string {
	return []string{
		"CARD " + data.CardNumber,
		"JOB " + data.JobNumber,
	}
}
