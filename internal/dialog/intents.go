// ABOUTME: Intent detection as a prioritized list of pure predicates over normalized text.
// ABOUTME: Also parses structured cart submissions from order text.

package dialog

import (
	"regexp"
	"strings"

	"github.com/campoverde/agrobot/internal/session"
)

// Intent identifies a recognized conversational intent.
type Intent string

const (
	IntentNone     Intent = ""
	IntentHuman    Intent = "human"    // explicit advisor request, always wins
	IntentResume   Intent = "resume"   // reserved keyword ending a human window
	IntentRestart  Intent = "restart"  // explicit conversation reset
	IntentCart     Intent = "cart"     // structured cart submission
	IntentGreeting Intent = "greeting"
	IntentFarewell Intent = "farewell"
	IntentCatalog  Intent = "catalog"
	IntentPrice    Intent = "price"
)

// resumeKeyword is the reserved phrase that ends a human window. It is
// checked even while automation is suspended.
const resumeKeyword = "activar bot"

var humanPhrases = []string{
	"asesor", "hablar con una persona", "hablar con alguien", "un humano",
	"atencion personal", "agente", "vendedor",
}

var greetingPhrases = []string{
	"hola", "buenas", "buen dia", "buenos dias", "buenas tardes", "buenas noches", "que tal",
}

var farewellPhrases = []string{
	"chau", "chao", "adios", "hasta luego", "eso seria todo", "nada mas", "muchas gracias",
}

var catalogPhrases = []string{
	"catalogo", "productos", "que venden", "que ofrecen", "menu",
}

var pricePhrases = []string{
	"precio", "cuanto cuesta", "cuanto esta", "cotizacion", "cotizar",
}

// predicate pairs an intent with its matcher. Order in the predicates
// slice is the evaluation priority.
type predicate struct {
	intent Intent
	match  func(norm string) bool
}

var predicates = []predicate{
	{IntentHuman, matchesAny(humanPhrases)},
	{IntentResume, func(n string) bool { return strings.Contains(n, resumeKeyword) }},
	{IntentRestart, func(n string) bool { return n == "reiniciar" || n == "empezar de nuevo" }},
	{IntentCart, func(n string) bool { return strings.HasPrefix(n, "pedido") }},
	{IntentFarewell, exactOrContains(farewellPhrases)},
	{IntentGreeting, matchesGreeting},
	{IntentCatalog, matchesAny(catalogPhrases)},
	{IntentPrice, matchesAny(pricePhrases)},
}

// DetectIntent evaluates the predicates in priority order against the
// normalized text and returns the first match.
func DetectIntent(text string) Intent {
	norm := normalize(text)
	if norm == "" {
		return IntentNone
	}
	for _, p := range predicates {
		if p.match(norm) {
			return p.intent
		}
	}
	return IntentNone
}

// IsResumeKeyword reports whether text is the reserved resume phrase.
func IsResumeKeyword(text string) bool {
	return strings.Contains(normalize(text), resumeKeyword)
}

func matchesAny(phrases []string) func(string) bool {
	return func(norm string) bool {
		for _, p := range phrases {
			if strings.Contains(norm, p) {
				return true
			}
		}
		return false
	}
}

// exactOrContains requires short texts to match whole phrases, so
// "gracias" inside a longer question does not close the conversation.
func exactOrContains(phrases []string) func(string) bool {
	return func(norm string) bool {
		for _, p := range phrases {
			if norm == p {
				return true
			}
			if len(strings.Fields(norm)) <= 4 && strings.Contains(norm, p) {
				return true
			}
		}
		return false
	}
}

// matchesGreeting only fires on short messages: a greeting buried in a
// longer question is not a greeting turn.
func matchesGreeting(norm string) bool {
	if len(strings.Fields(norm)) > 4 {
		return false
	}
	for _, p := range greetingPhrases {
		if strings.HasPrefix(norm, p) {
			return true
		}
	}
	return false
}

// cartLinePattern matches "3 x Glifomax 20L" or "3 glifomax".
var cartLinePattern = regexp.MustCompile(`^(\d+(?:[.,]\d+)?)\s*(?:x\s*)?(.+)$`)

// ParseCartText extracts line items from a structured order message:
//
//	pedido:
//	3 x Glifomax 20 L
//	10 urea
//
// Lines that don't match the pattern become quantity-less items so the
// advisor can resolve them.
func ParseCartText(text string) []session.LineItem {
	var items []session.LineItem
	first := true
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if first {
			first = false
			// Drop the "pedido:" header, keeping anything after the colon.
			if idx := strings.Index(strings.ToLower(line), "pedido"); idx >= 0 {
				rest := line[idx+len("pedido"):]
				rest = strings.TrimLeft(rest, ": ")
				if rest == "" {
					continue
				}
				line = rest
			}
		}
		if m := cartLinePattern.FindStringSubmatch(line); m != nil {
			items = append(items, session.LineItem{
				Name:         strings.TrimSpace(m[2]),
				QuantityText: m[1],
			})
		} else {
			items = append(items, session.LineItem{Name: line, QuantityText: "1"})
		}
	}
	return items
}
