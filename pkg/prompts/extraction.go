// Package prompts builds the instructions sent to the structured-extraction
// capability. The pipeline core treats the capability as opaque; everything
// type-specific lives here.
package prompts

import (
	"fmt"
	"strings"

	"github.com/fabrica-inc/ingest-engine/pkg/models"
)

// ChunkContext is one chunk presented to the extraction capability.
type ChunkContext struct {
	PageNo int
	Seq    int
	Text   string
}

// ExtractionSystemMessage is the system message for all extraction calls.
const ExtractionSystemMessage = `You are a document data extraction engine for a construction materials business.
You read vendor quotes, invoices and project briefs and return structured JSON.
Return ONLY a JSON array, no commentary. Use null for unknown fields.
Every item must carry a confidence between 0.0 and 1.0 and a source with the page_no it came from.`

// typeInstructions maps a document type to extraction guidance specific to
// that type.
var typeInstructions = map[models.DocumentType]string{
	models.DocTypeQuote: `This document is a vendor QUOTE. Focus on offered line items:
material name, quantity, unit, unit price, tax percentage and lead time.
Record the vendor name exactly as written.`,
	models.DocTypeInvoice: `This document is an INVOICE. Focus on billed purchases and shipping
entries: material name, quantity, unit, unit price, tax percentage, and the
invoice/occurrence date. Record the vendor name exactly as written.`,
	models.DocTypeBrief: `This document is a project BRIEF. Focus on decisions and metadata:
required materials, target quantities, constraints and deadlines. Prices are
usually absent; do not invent them.`,
	models.DocTypeOther: `The document type is unknown. Extract any line items, purchases,
shipping entries, decisions or metadata you can find, conservatively.`,
}

// BuildExtractionPrompt assembles the user prompt for one extraction call:
// type-specific instructions, the response schema, and the chunk texts with
// their page provenance.
func BuildExtractionPrompt(docType models.DocumentType, chunks []ChunkContext) string {
	var prompt strings.Builder

	instruction, ok := typeInstructions[docType]
	if !ok {
		instruction = typeInstructions[models.DocTypeOther]
	}
	prompt.WriteString(instruction)
	prompt.WriteString("\n\n")

	prompt.WriteString(`Respond with a JSON array of items. Each item has this shape:
{
  "type": "line_item" | "purchase" | "shipping" | "decision" | "metadata",
  "title": string,
  "vendor_name": string | null,
  "material_name": string | null,
  "quantity": number | null,
  "unit": string | null,
  "unit_price": number | null,
  "tax_percent": number | null,
  "lead_time": string | null,
  "occurred_at": "YYYY-MM-DD" | null,
  "attrs": object | null,
  "confidence": number,
  "source": {"page_no": number, "line": number | null, "quote": string | null}
}

`)

	prompt.WriteString("## Document text\n\n")
	for _, c := range chunks {
		prompt.WriteString(fmt.Sprintf("### Page %d (part %d)\n%s\n\n", c.PageNo, c.Seq+1, c.Text))
	}

	return prompt.String()
}
