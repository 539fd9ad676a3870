package extract

import (
	"context"
	"errors"
	"testing"
)

type fakeCompleter struct {
	reply string
	err   error
	calls int
}

func (f *fakeCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func TestExtract_CanonicalFormat(t *testing.T) {
	e := &Extractor{}

	d, err := e.Extract(context.Background(), "https://www.shein.com/fr/robe-ete-p-123.html\nTaille M - Couleur Rouge - Quantité 2")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if d.ProductURL != "https://www.shein.com/fr/robe-ete-p-123.html" {
		t.Fatalf("url: %q", d.ProductURL)
	}
	if d.Size != "M" || d.Color != "Rouge" || d.Quantity != 2 {
		t.Fatalf("fields: size=%q color=%q qty=%d", d.Size, d.Color, d.Quantity)
	}
	if d.Confidence != 0.95 {
		t.Fatalf("regex path confidence: %v", d.Confidence)
	}
}

func TestExtract_FieldVariants(t *testing.T) {
	e := &Extractor{}
	cases := []struct {
		name  string
		text  string
		size  string
		color string
		qty   int
	}{
		{
			name:  "colons and lowercase",
			text:  "https://shein.com/x.html taille: xl couleur: bleu marine qty: 3",
			size:  "XL",
			color: "Bleu Marine",
			qty:   3,
		},
		{
			name: "pieces form",
			text: "https://shein.com/x.html 4 pièces taille S",
			size: "S",
			qty:  4,
		},
		{
			name: "bare size token",
			text: "https://shein.com/x.html je veux du XXL svp",
			size: "XXL",
			qty:  1,
		},
		{
			name: "numeric size",
			text: "https://shein.com/x.html taille 38",
			size: "38",
			qty:  1,
		},
		{
			name: "url only defaults quantity",
			text: "https://shein.com/x.html",
			qty:  1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := e.Extract(context.Background(), tc.text)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if d.Size != tc.size || d.Color != tc.color || d.Quantity != tc.qty {
				t.Fatalf("got size=%q color=%q qty=%d, want size=%q color=%q qty=%d",
					d.Size, d.Color, d.Quantity, tc.size, tc.color, tc.qty)
			}
		})
	}
}

func TestExtract_InvalidURL(t *testing.T) {
	e := &Extractor{}

	// A URL that is not a product link from the retailer.
	if _, err := e.Extract(context.Background(), "https://example.com/robe.html Taille M"); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
}

func TestExtract_Unparseable(t *testing.T) {
	e := &Extractor{}

	if _, err := e.Extract(context.Background(), "bonjour tout le monde"); !errors.Is(err, ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable, got %v", err)
	}
	if _, err := e.Extract(context.Background(), "   "); !errors.Is(err, ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable for blank text, got %v", err)
	}
}

func TestExtract_ModelFallback(t *testing.T) {
	fc := &fakeCompleter{reply: "```json\n{\"url\": \"https://www.shein.com/fr/jupe-p-9.html\", \"size\": \"l\", \"color\": \"noir\", \"quantity\": \"2\"}\n```"}
	e := &Extractor{Model: fc}

	d, err := e.Extract(context.Background(), "je veux la jupe noire en L x2 merci")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if fc.calls != 1 {
		t.Fatalf("expected one model call, got %d", fc.calls)
	}
	if d.ProductURL != "https://www.shein.com/fr/jupe-p-9.html" {
		t.Fatalf("url: %q", d.ProductURL)
	}
	if d.Color != "Noir" || d.Quantity != 2 {
		t.Fatalf("fields: color=%q qty=%d", d.Color, d.Quantity)
	}
	if d.Confidence != 0.75 {
		t.Fatalf("model path confidence: %v", d.Confidence)
	}

	// Bare-size regex already matched "L"; the regex hit must win over the
	// model answer.
	if d.Size != "L" {
		t.Fatalf("size: %q", d.Size)
	}
}

func TestExtract_ModelNotCalledWhenRegexFindsURL(t *testing.T) {
	fc := &fakeCompleter{reply: "{}"}
	e := &Extractor{Model: fc}

	if _, err := e.Extract(context.Background(), "https://www.shein.com/fr/a.html Taille M"); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if fc.calls != 0 {
		t.Fatalf("model must not run when regex found a URL, got %d calls", fc.calls)
	}
}

func TestExtract_ModelRateLimited(t *testing.T) {
	e := &Extractor{Model: &fakeCompleter{err: ErrRateLimited}}

	if _, err := e.Extract(context.Background(), "la robe bleue en M"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited to propagate, got %v", err)
	}
}

func TestExtract_ModelGarbageFallsThrough(t *testing.T) {
	e := &Extractor{Model: &fakeCompleter{reply: "désolé, je ne peux pas"}}

	if _, err := e.Extract(context.Background(), "la robe bleue en M"); !errors.Is(err, ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable, got %v", err)
	}
}

func TestExtract_ModelNullFields(t *testing.T) {
	fc := &fakeCompleter{reply: `{"url": "https://www.shein.com/fr/a.html", "size": "null", "color": "null", "quantity": null}`}
	e := &Extractor{Model: fc}

	d, err := e.Extract(context.Background(), "ajoute ça au panier")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if d.Size != "" || d.Color != "" {
		t.Fatalf("literal null must map to empty, got size=%q color=%q", d.Size, d.Color)
	}
	if d.Quantity != 1 {
		t.Fatalf("missing quantity must default to 1, got %d", d.Quantity)
	}
}

func TestNormalize(t *testing.T) {
	d := &Draft{ProductURL: " https://www.shein.com/fr/a.html, ", Size: " m ", Color: "ROUGE FONCÉ", Quantity: 0}
	d.normalize()
	if d.ProductURL != "https://www.shein.com/fr/a.html" {
		t.Fatalf("url: %q", d.ProductURL)
	}
	if d.Size != "M" {
		t.Fatalf("size: %q", d.Size)
	}
	if d.Color != "Rouge Foncé" {
		t.Fatalf("color: %q", d.Color)
	}
	if d.Quantity != 1 {
		t.Fatalf("qty: %d", d.Quantity)
	}

	// Garbage size tokens are dropped rather than stored.
	d = &Draft{Size: "GIGANTIC", Quantity: 2}
	d.normalize()
	if d.Size != "" {
		t.Fatalf("expected invalid size dropped, got %q", d.Size)
	}
}

func TestValidProductURL(t *testing.T) {
	e := &Extractor{}
	if !e.ValidProductURL("https://www.shein.com/fr/robe-p-1.html") {
		t.Fatal("expected shein url to validate")
	}
	if e.ValidProductURL("https://example.com/robe.html") {
		t.Fatal("expected foreign url to fail")
	}
}

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":                      `{"a":1}`,
		"```json\n{\"a\":1}\n```":        `{"a":1}`,
		"```\n{\"a\":1}\n```":            `{"a":1}`,
		"  ```json\n{\"a\":1}\n```  \n ": `{"a":1}`,
	}
	for in, want := range cases {
		if got := stripFences(in); got != want {
			t.Errorf("stripFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseQuantity(t *testing.T) {
	cases := map[string]int{
		`3`:     3,
		`"4"`:   4,
		`" 5 "`: 5,
		`null`:  0,
		`"abc"`: 0,
		``:      0,
	}
	for in, want := range cases {
		if got := parseQuantity([]byte(in)); got != want {
			t.Errorf("parseQuantity(%q) = %d, want %d", in, got, want)
		}
	}
}
