// ABOUTME: Slot definitions, parsers, and prompts for the discovery sequence.
// ABOUTME: Slots fill in fixed priority order: name, region, subregion, crop, area, campaign.

package dialog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/campoverde/agrobot/internal/session"
	"github.com/campoverde/agrobot/internal/transport"
)

// slotOrder is the fixed priority order of the discovery sequence.
// Subregion is only required for regions listed in subregions.
var slotOrder = []session.SlotKey{
	session.SlotName,
	session.SlotRegion,
	session.SlotSubregion,
	session.SlotCrop,
	session.SlotArea,
	session.SlotCampaign,
}

// regions maps normalized region names (and synonyms) to canonical form.
var regions = map[string]string{
	"santa cruz": "Santa Cruz",
	"scz":        "Santa Cruz",
	"beni":       "Beni",
	"la paz":     "La Paz",
	"cochabamba": "Cochabamba",
	"cbba":       "Cochabamba",
	"chuquisaca": "Chuquisaca",
	"sucre":      "Chuquisaca",
	"tarija":     "Tarija",
}

// regionList is the canonical presentation order.
var regionList = []string{"Santa Cruz", "Beni", "La Paz", "Cochabamba", "Chuquisaca", "Tarija"}

// subregions lists the zones for regions that require one.
var subregions = map[string][]string{
	"Santa Cruz": {"Norte", "Este", "Sur", "Valles", "Chiquitania"},
}

// crops maps normalized crop synonyms to canonical names.
var crops = map[string]string{
	"soya":     "soya",
	"soja":     "soya",
	"maiz":     "maíz",
	"choclo":   "maíz",
	"trigo":    "trigo",
	"sorgo":    "sorgo",
	"arroz":    "arroz",
	"girasol":  "girasol",
	"chia":     "chía",
	"frejol":   "frejol",
	"frijol":   "frejol",
	"caña":     "caña",
	"cana":     "caña",
	"ganado":   "pasturas",
	"pasturas": "pasturas",
	"pasto":    "pasturas",
}

var cropList = []string{"soya", "maíz", "trigo", "sorgo", "arroz", "girasol"}

// campaigns are the two sowing seasons.
var campaigns = []string{"verano", "invierno"}

// normalize lowercases, strips accents, and collapses whitespace so
// parsers and intent predicates compare plain text.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	replacer := strings.NewReplacer(
		"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u",
		"¿", "", "?", "", "¡", "", "!", "", ".", "", ",", " ",
	)
	s = replacer.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// selectionValue strips a "prefix:" from interactive reply ids, so
// "region:santa cruz" parses like typed text.
func selectionValue(id, prefix string) (string, bool) {
	if v, ok := strings.CutPrefix(id, prefix+":"); ok {
		return v, true
	}
	return "", false
}

// slotFilled reports whether the slot already holds a value. The
// campaign slot counts as filled only while it matches the current
// campaign, so a stale campaign is re-asked.
func slotFilled(s *session.Session, slot session.SlotKey, currentCampaign string) bool {
	switch slot {
	case session.SlotName:
		return s.Slots.Name != ""
	case session.SlotRegion:
		return s.Slots.Region != ""
	case session.SlotSubregion:
		if _, needed := subregions[s.Slots.Region]; !needed {
			return true
		}
		return s.Slots.Subregion != ""
	case session.SlotCrop:
		return len(s.Slots.Crops) > 0
	case session.SlotArea:
		return s.Slots.AreaHectares > 0
	case session.SlotCampaign:
		return s.Slots.Campaign != "" && s.Slots.Campaign == currentCampaign
	}
	return true
}

// nextUnfilledSlot returns the first slot in priority order that still
// needs an answer, or "" when the profile is complete.
func nextUnfilledSlot(s *session.Session, currentCampaign string) session.SlotKey {
	for _, slot := range slotOrder {
		if !slotFilled(s, slot, currentCampaign) {
			return slot
		}
	}
	return ""
}

var nameBadWords = map[string]bool{
	"hola": true, "buenas": true, "buenos dias": true, "si": true, "no": true,
	"gracias": true, "ok": true, "menu": true, "catalogo": true,
}

// parseName accepts free text as a name unless it looks like a greeting,
// a command, or contains digits.
func parseName(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	norm := normalize(trimmed)
	if len([]rune(trimmed)) < 3 || nameBadWords[norm] {
		return "", false
	}
	if strings.ContainsAny(trimmed, "0123456789") {
		return "", false
	}
	// Strip a conversational lead-in like "soy Juan" / "me llamo Juan".
	for _, prefix := range []string{"me llamo ", "mi nombre es ", "soy "} {
		if rest, ok := strings.CutPrefix(norm, prefix); ok && len(rest) >= 3 {
			words := strings.Fields(strings.TrimSpace(trimmed))
			return strings.Join(words[len(words)-len(strings.Fields(rest)):], " "), true
		}
	}
	return trimmed, true
}

// parseRegion matches enumerated region names and synonyms.
func parseRegion(text string) (string, bool) {
	norm := normalize(text)
	if canonical, ok := regions[norm]; ok {
		return canonical, true
	}
	for synonym, canonical := range regions {
		if strings.Contains(norm, synonym) {
			return canonical, true
		}
	}
	return "", false
}

// regionNeedsSubregion reports whether region has zones to pick.
func regionNeedsSubregion(region string) bool {
	_, ok := subregions[region]
	return ok
}

// parseSubregion matches one of the region's zones.
func parseSubregion(region, text string) (string, bool) {
	norm := normalize(text)
	for _, zone := range subregions[region] {
		if strings.Contains(norm, normalize(zone)) {
			return zone, true
		}
	}
	return "", false
}

// parseCrops extracts every known crop mentioned in the text.
func parseCrops(text string) ([]string, bool) {
	norm := normalize(text)
	seen := make(map[string]bool)
	var out []string
	for synonym, canonical := range crops {
		if strings.Contains(norm, synonym) && !seen[canonical] {
			seen[canonical] = true
			out = append(out, canonical)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	// Deterministic order for prompts and quotes.
	ordered := out[:0]
	for _, c := range []string{"soya", "maíz", "trigo", "sorgo", "arroz", "girasol", "chía", "frejol", "caña", "pasturas"} {
		if seen[c] {
			ordered = append(ordered, c)
		}
	}
	return ordered, true
}

var areaPattern = regexp.MustCompile(`(\d+(?:[.,]\d+)?)`)

// parseArea extracts a positive hectare figure from free text. The raw
// text is matched so decimal separators survive.
func parseArea(text string) (float64, bool) {
	match := areaPattern.FindString(text)
	if match == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", "."), 64)
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}

// parseCampaign matches the sowing season.
func parseCampaign(text string) (string, bool) {
	norm := normalize(text)
	for _, c := range campaigns {
		if strings.Contains(norm, c) {
			return c, true
		}
	}
	return "", false
}

// promptFor builds the outbound prompt for a slot.
func promptFor(s *session.Session, slot session.SlotKey) transport.Message {
	switch slot {
	case session.SlotName:
		return transport.Text("Para darte una mejor atención, ¿cuál es tu nombre completo?")

	case session.SlotRegion:
		rows := make([]transport.ListRow, 0, len(regionList))
		for _, r := range regionList {
			rows = append(rows, transport.ListRow{ID: "region:" + normalize(r), Title: r})
		}
		return transport.List(
			fmt.Sprintf("Gracias %s. ¿En qué departamento están tus campos?", firstName(s.Slots.Name)),
			"Ver departamentos",
			transport.ListSection{Title: "Departamentos", Rows: rows},
		)

	case session.SlotSubregion:
		zones := subregions[s.Slots.Region]
		rows := make([]transport.ListRow, 0, len(zones))
		for _, z := range zones {
			rows = append(rows, transport.ListRow{ID: "subregion:" + normalize(z), Title: z})
		}
		return transport.List(
			fmt.Sprintf("¿En qué zona de %s?", s.Slots.Region),
			"Ver zonas",
			transport.ListSection{Title: "Zonas", Rows: rows},
		)

	case session.SlotCrop:
		rows := make([]transport.ListRow, 0, len(cropList))
		for _, c := range cropList {
			rows = append(rows, transport.ListRow{ID: "crop:" + normalize(c), Title: c})
		}
		return transport.List(
			"¿Qué cultivos manejas? Puedes elegir uno o escribir varios separados por coma.",
			"Ver cultivos",
			transport.ListSection{Title: "Cultivos", Rows: rows},
		)

	case session.SlotArea:
		return transport.Text("¿Cuántas hectáreas siembras aproximadamente?")

	case session.SlotCampaign:
		return transport.Buttons("¿Para qué campaña estás comprando?",
			transport.Button{ID: "campaign:verano", Title: "Verano"},
			transport.Button{ID: "campaign:invierno", Title: "Invierno"},
		)
	}
	return transport.Text("¿Me repites, por favor?")
}

// correctiveFor re-issues a prompt with guidance after a parse failure.
func correctiveFor(s *session.Session, slot session.SlotKey) transport.Message {
	switch slot {
	case session.SlotName:
		return transport.Text("No logré entender tu nombre. Escríbelo sin números, por ejemplo: Juan Pérez.")
	case session.SlotRegion:
		return promptWithHint(promptFor(s, slot), "No reconocí ese departamento.")
	case session.SlotSubregion:
		return promptWithHint(promptFor(s, slot), "No reconocí esa zona.")
	case session.SlotCrop:
		return promptWithHint(promptFor(s, slot), "No reconocí esos cultivos.")
	case session.SlotArea:
		return transport.Text("Necesito un número de hectáreas, por ejemplo: 120 o 35,5.")
	case session.SlotCampaign:
		return promptWithHint(promptFor(s, slot), "Elige una de las dos campañas.")
	}
	return promptFor(s, slot)
}

func promptWithHint(msg transport.Message, hint string) transport.Message {
	msg.Text = hint + " " + msg.Text
	return msg
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return "amigo"
	}
	return fields[0]
}
