// Package extract turns free-text shopping messages into structured order
// drafts. Field extraction is regex-first: most messages follow the format
// the bot teaches users (product link plus Taille/Couleur/Quantité lines),
// and those never need a model call. Only when no product URL is found does
// the adapter fall back to the language-model service with a fixed prompt
// template requesting a JSON-only response.
//
// The adapter is a pure function over its inputs: it mutates nothing on
// failure, so callers may retry freely. All normalization (case-folding of
// size and color tokens, quantity defaulting) happens here, once, before the
// draft reaches the order store.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Extraction failure modes. These never create an order and are surfaced to
// the user as a request to resend with clearer detail.
var (
	// ErrUnparseable means no usable product information could be pulled
	// from the message, by regex or by the model.
	ErrUnparseable = errors.New("message not parseable as an order")

	// ErrInvalidURL means a URL was present but does not match the
	// retailer's product-URL shape.
	ErrInvalidURL = errors.New("invalid product url")

	// ErrRateLimited means the language-model service pushed back; the
	// caller should retry later with backoff rather than treat the message
	// as permanently unparseable.
	ErrRateLimited = errors.New("language-model rate limited")
)

// Draft is the ephemeral result of extraction. It is consumed immediately
// into an Order by the order service or discarded on validation failure;
// it is never persisted on its own.
type Draft struct {
	ProductURL string
	Size       string
	Color      string
	Quantity   int
	RawText    string
	Confidence float64
}

// Completer is the narrow language-model contract the extractor depends on.
// Implementations must be safe for concurrent use.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Extractor parses inbound message text into drafts.
type Extractor struct {
	// Model is the fallback completer; nil disables the model path and
	// makes extraction purely regex-based.
	Model Completer

	// URLPattern recognizes the retailer's product URLs. Defaults to the
	// Shein pattern when nil.
	URLPattern *regexp.Regexp
}

// DefaultURLPattern matches Shein product links, the retailer the original
// deployment targets.
var DefaultURLPattern = regexp.MustCompile(`https?://(?:www\.)?shein\.com/\S+`)

const systemPrompt = "Tu es un assistant spécialisé dans l'extraction d'informations produits e-commerce. Réponds uniquement en JSON valide."

const promptTemplate = `Analyse ce message et extrait les informations produit.

Message: %q

Retourne UNIQUEMENT un JSON valide avec ces champs:
{
  "url": "URL du produit (ou null)",
  "size": "Taille (S, M, L, XL, etc. ou null)",
  "color": "Couleur (ou null)",
  "quantity": nombre (défaut: 1)
}

Règles:
- Taille en majuscules (S, M, L, XL, XXL, etc.)
- Couleur avec première lettre majuscule
- Quantité doit être un nombre entier
- Si une info manque, mettre null`

// Extract parses the message text into a Draft. It returns ErrInvalidURL
// when a URL is present but malformed and ErrUnparseable when nothing usable
// can be recovered. Quantity defaults to 1 when absent.
func (e *Extractor) Extract(ctx context.Context, text string) (*Draft, error) {
	cleaned := cleanMessage(text)
	if cleaned == "" {
		return nil, ErrUnparseable
	}

	d := e.extractWithRegex(cleaned)
	d.RawText = text
	d.Confidence = 0.95

	if d.ProductURL == "" && e.Model != nil {
		md, err := e.extractWithModel(ctx, cleaned)
		if err != nil {
			if errors.Is(err, ErrRateLimited) {
				return nil, err
			}
			// Model miss is not fatal; the regex result decides below.
		} else {
			d.merge(md)
			d.Confidence = 0.75
		}
	}

	if d.ProductURL == "" {
		if anyURLRE.MatchString(cleaned) {
			return nil, ErrInvalidURL
		}
		return nil, ErrUnparseable
	}
	if !e.urlPattern().MatchString(d.ProductURL) {
		return nil, ErrInvalidURL
	}

	d.normalize()
	return d, nil
}

// ValidProductURL reports whether raw matches the configured product-URL
// shape. The order service re-checks URLs with this before admitting a draft
// that arrived through a non-extraction path.
func (e *Extractor) ValidProductURL(raw string) bool {
	return e.urlPattern().MatchString(raw)
}

func (e *Extractor) urlPattern() *regexp.Regexp {
	if e.URLPattern != nil {
		return e.URLPattern
	}
	return DefaultURLPattern
}

// merge fills empty fields of d from the model's draft. Regex hits win.
func (d *Draft) merge(md *Draft) {
	if d.ProductURL == "" {
		d.ProductURL = md.ProductURL
	}
	if d.Size == "" {
		d.Size = md.Size
	}
	if d.Color == "" {
		d.Color = md.Color
	}
	if d.Quantity == 0 {
		d.Quantity = md.Quantity
	}
}

// titleCaser capitalizes color tokens the way the original bot did
// ("rouge" -> "Rouge"). French rules cover the deployment's user base.
var titleCaser = cases.Title(language.French)

// normalize case-folds size/color and bounds quantity. Runs exactly once per
// accepted draft.
func (d *Draft) normalize() {
	d.ProductURL = strings.TrimRight(strings.TrimSpace(d.ProductURL), ".,;")

	size := strings.ToUpper(strings.TrimSpace(d.Size))
	if sizeRE.MatchString(size) {
		d.Size = size
	} else {
		d.Size = ""
	}

	color := strings.TrimSpace(d.Color)
	if color != "" && len(color) <= 50 {
		d.Color = titleCaser.String(strings.ToLower(color))
	} else {
		d.Color = ""
	}

	if d.Quantity < 1 {
		d.Quantity = 1
	}
}

//
// Regex path
//

var (
	anyURLRE = regexp.MustCompile(`https?://\S+`)

	sizeRE = regexp.MustCompile(`^(?:XS|S|M|L|XL|XXL|XXXL|\d{1,3})$`)

	sizeFieldRE  = regexp.MustCompile(`(?i)\b(?:taille|size)\s*:?\s*([A-Za-z]{1,4}|\d{1,3})\b`)
	colorFieldRE = regexp.MustCompile(`(?i)\b(?:couleur|color)\s*:?\s*([\p{L}]+(?:\s[\p{L}]+)?)`)
	qtyFieldRE   = regexp.MustCompile(`(?i)\b(?:quantit[ée]|quantite|qt[ée]|qty)\s*:?\s*(\d+)`)
	qtyPiecesRE  = regexp.MustCompile(`(?i)\b(\d+)\s*pi[èe]ces?\b`)
	bareSizeRE   = regexp.MustCompile(`\b(XS|S|M|L|XL|XXL|XXXL)\b`)
)

// cleanMessage flattens whitespace so the field regexes can work on a single
// line regardless of how the user formatted the message.
func cleanMessage(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// extractWithRegex pulls whatever fields the message format yields directly.
func (e *Extractor) extractWithRegex(text string) *Draft {
	d := &Draft{}

	if m := anyURLRE.FindString(text); m != "" {
		d.ProductURL = m
	}
	if m := sizeFieldRE.FindStringSubmatch(text); m != nil {
		d.Size = strings.ToUpper(m[1])
	} else if m := bareSizeRE.FindStringSubmatch(text); m != nil {
		d.Size = m[1]
	}
	if m := colorFieldRE.FindStringSubmatch(text); m != nil {
		d.Color = m[1]
	}
	if m := qtyFieldRE.FindStringSubmatch(text); m != nil {
		d.Quantity, _ = strconv.Atoi(m[1])
	} else if m := qtyPiecesRE.FindStringSubmatch(text); m != nil {
		d.Quantity, _ = strconv.Atoi(m[1])
	}

	return d
}

//
// Model path
//

// modelAnswer is the JSON schema the prompt template requests.
type modelAnswer struct {
	URL      string          `json:"url"`
	Size     string          `json:"size"`
	Color    string          `json:"color"`
	Quantity json.RawMessage `json:"quantity"`
}

// extractWithModel asks the configured completer and schema-validates its
// answer. Markdown fences around the JSON are tolerated; anything else that
// fails to parse is ErrUnparseable.
func (e *Extractor) extractWithModel(ctx context.Context, text string) (*Draft, error) {
	raw, err := e.Model.Complete(ctx, systemPrompt, fmt.Sprintf(promptTemplate, text))
	if err != nil {
		return nil, err
	}

	raw = stripFences(raw)

	var ans modelAnswer
	if err := json.Unmarshal([]byte(raw), &ans); err != nil {
		return nil, ErrUnparseable
	}

	d := &Draft{
		ProductURL: nullableString(ans.URL),
		Size:       nullableString(ans.Size),
		Color:      nullableString(ans.Color),
		Quantity:   parseQuantity(ans.Quantity),
	}
	return d, nil
}

// stripFences removes a ```json ... ``` wrapper if the model added one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// nullableString maps the literal "null" (models sometimes emit it as text)
// and whitespace to the empty string.
func nullableString(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "null") {
		return ""
	}
	return s
}

// parseQuantity accepts both JSON numbers and quoted numbers.
func parseQuantity(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n
		}
	}
	return 0
}
