// ABOUTME: Quote building from the session cart plus local document rendering.
// ABOUTME: Prices come from a YAML price list; documents render to HTML files.

package collab

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/campoverde/agrobot/internal/session"
)

// Product is one price list entry.
type Product struct {
	Name     string   `yaml:"name"`
	Pack     string   `yaml:"pack"`
	Price    float64  `yaml:"price"`
	Keywords []string `yaml:"keywords,omitempty"`
}

// QuoteLine is one priced cart line.
type QuoteLine struct {
	Product  string
	Pack     string
	Quantity string
	Price    float64 // unit price; zero when the product needs advisor confirmation
}

// QuoteDocument is the checkout summary handed to the renderer.
type QuoteDocument struct {
	ID        string
	Recipient string
	Name      string
	Lines     []QuoteLine
	Total     float64
	CreatedAt time.Time
}

// QuoteService builds and renders quotes at checkout completion.
type QuoteService struct {
	products []Product
	outDir   string
}

// priceList is the YAML file shape.
type priceList struct {
	Products []Product `yaml:"products"`
}

// NewQuoteService loads the price list and prepares the output directory.
func NewQuoteService(priceListPath, outDir string) (*QuoteService, error) {
	data, err := os.ReadFile(priceListPath)
	if err != nil {
		return nil, fmt.Errorf("reading price list: %w", err)
	}
	var list priceList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing price list: %w", err)
	}
	if len(list.Products) == 0 {
		return nil, fmt.Errorf("price list %s has no products", priceListPath)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating quote directory: %w", err)
	}
	return &QuoteService{products: list.Products, outDir: outDir}, nil
}

// Products exposes the catalog for intent matching and listing.
func (q *QuoteService) Products() []Product {
	return q.products
}

// FindProduct matches free text against product names and keywords.
// Returns nil when nothing matches.
func (q *QuoteService) FindProduct(text string) *Product {
	norm := normalizeProduct(text)
	if norm == "" {
		return nil
	}
	for i := range q.products {
		p := &q.products[i]
		if strings.Contains(norm, normalizeProduct(p.Name)) {
			return p
		}
		for _, kw := range p.Keywords {
			if kw != "" && strings.Contains(norm, normalizeProduct(kw)) {
				return p
			}
		}
	}
	return nil
}

// BuildQuote prices the session cart. Cart lines without a price list
// match are carried with a zero price for advisor confirmation.
func (q *QuoteService) BuildQuote(s *session.Session) (*QuoteDocument, error) {
	if len(s.Cart) == 0 {
		return nil, fmt.Errorf("session %s has an empty cart", s.ID)
	}

	doc := &QuoteDocument{
		ID:        uuid.New().String()[:8],
		Recipient: s.ID,
		Name:      s.Slots.Name,
		CreatedAt: time.Now(),
	}
	for _, item := range s.Cart {
		line := QuoteLine{Product: item.Name, Pack: item.PackSpec, Quantity: item.QuantityText}
		if p := q.FindProduct(item.Name); p != nil {
			line.Product = p.Name
			if line.Pack == "" {
				line.Pack = p.Pack
			}
			line.Price = p.Price
			doc.Total += p.Price * quantityOrOne(item.QuantityText)
		}
		doc.Lines = append(doc.Lines, line)
	}
	return doc, nil
}

var quoteTemplate = template.Must(template.New("quote").Parse(`<!DOCTYPE html>
<html lang="es"><head><meta charset="utf-8"><title>Cotización {{.ID}}</title></head>
<body>
<h1>Cotización {{.ID}}</h1>
<p>Cliente: {{if .Name}}{{.Name}}{{else}}{{.Recipient}}{{end}}</p>
<p>Fecha: {{.CreatedAt.Format "02/01/2006"}}</p>
<table border="1" cellpadding="4">
<tr><th>Producto</th><th>Presentación</th><th>Cantidad</th><th>Precio unit. (Bs)</th></tr>
{{range .Lines}}<tr><td>{{.Product}}</td><td>{{.Pack}}</td><td>{{.Quantity}}</td><td>{{if .Price}}{{printf "%.2f" .Price}}{{else}}a confirmar{{end}}</td></tr>
{{end}}</table>
<p><strong>Total referencial: Bs {{printf "%.2f" .Total}}</strong></p>
<p>Precios sujetos a confirmación del asesor.</p>
</body></html>
`))

// RenderQuote writes the document to a file and returns its path.
func (q *QuoteService) RenderQuote(doc *QuoteDocument) (string, error) {
	path := filepath.Join(q.outDir, fmt.Sprintf("cotizacion-%s.html", doc.ID))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating quote file: %w", err)
	}
	defer f.Close()
	if err := quoteTemplate.Execute(f, doc); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("rendering quote: %w", err)
	}
	return path, nil
}

// quantityOrOne extracts a leading number from free quantity text.
func quantityOrOne(text string) float64 {
	var n float64
	if _, err := fmt.Sscanf(strings.ReplaceAll(strings.TrimSpace(text), ",", "."), "%f", &n); err != nil || n <= 0 {
		return 1
	}
	return n
}

// normalizeProduct lowercases and strips accents for matching.
func normalizeProduct(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	replacer := strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ñ", "n")
	return replacer.Replace(s)
}
