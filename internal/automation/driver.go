package automation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/shopspring/decimal"

	"github.com/adiouf/go-cart-backend/internal/domain"
	"github.com/adiouf/go-cart-backend/internal/session"
)

// Driver performs one add-to-cart attempt on an authenticated session. It
// returns the price observed on the product page when available.
type Driver interface {
	AddToCart(ctx context.Context, s *session.Session, o *domain.Order) (*decimal.Decimal, error)
}

// Selectors names the storefront DOM hooks the driver uses. They track the
// retailer's markup and are the part most likely to need maintenance.
type Selectors struct {
	ProductRoot   string
	SoldOut       string
	SizeOptions   string
	ColorOptions  string
	QuantityInput string
	Price         string
	AddButton     string
	SuccessToast  string
	LoginURL      string
}

// DefaultSelectors matches the Shein storefront.
var DefaultSelectors = Selectors{
	ProductRoot:   ".product-intro",
	SoldOut:       ".product-intro__soldout",
	SizeOptions:   ".product-intro__size-radio",
	ColorOptions:  ".product-intro__color-radio",
	QuantityInput: ".product-intro__quantity input",
	Price:         ".product-intro__head-price",
	AddButton:     ".product-intro__add-btn",
	SuccessToast:  ".she-toast, .add-cart-success",
	LoginURL:      "https://www.shein.com/fr/user/auth/login",
}

// ChromeDriver is the production Driver, built on chromedp.
type ChromeDriver struct {
	// Sel are the storefront selectors; zero value falls back to
	// DefaultSelectors.
	Sel Selectors
	// PageTimeout bounds each page interaction.
	PageTimeout time.Duration
	// ConfirmTimeout bounds the wait for the add-to-cart confirmation.
	ConfirmTimeout time.Duration
}

func (d *ChromeDriver) sel() Selectors {
	if d.Sel.ProductRoot == "" {
		return DefaultSelectors
	}
	return d.Sel
}

// AddToCart navigates to the order's product page, selects the exact size
// and color, sets the quantity, clicks add-to-cart, and waits for the
// storefront's confirmation. Absence of the confirmation is a failure even
// if the click itself went through.
func (d *ChromeDriver) AddToCart(ctx context.Context, s *session.Session, o *domain.Order) (*decimal.Decimal, error) {
	sel := d.sel()
	pageTimeout := d.PageTimeout
	if pageTimeout <= 0 {
		pageTimeout = 15 * time.Second
	}
	confirmTimeout := d.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = 10 * time.Second
	}

	runCtx, cancel := mergeDeadline(s.BrowserCtx(), ctx)
	defer cancel()

	// Load the product page.
	var loc string
	if err := runTimed(runCtx, pageTimeout,
		chromedp.Navigate(o.ProductURL),
		chromedp.WaitReady("body"),
		chromedp.Location(&loc),
	); err != nil {
		return nil, classify(err)
	}
	if sel.LoginURL != "" && strings.HasPrefix(loc, sel.LoginURL) {
		return nil, ErrSessionExpired
	}

	if err := runTimed(runCtx, pageTimeout, chromedp.WaitVisible(sel.ProductRoot, chromedp.ByQuery)); err != nil {
		// No product container at all: dead link or delisted item.
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrProductUnavailable
		}
		return nil, classify(err)
	}

	var soldOut bool
	_ = runTimed(runCtx, 2*time.Second, chromedp.Evaluate(existsJS(sel.SoldOut), &soldOut))
	if soldOut {
		return nil, ErrProductUnavailable
	}

	// Variant selection is strict: the exact requested size and color must
	// be clickable, substitutes are never accepted.
	if o.Size != "" {
		if err := d.clickOptionByText(runCtx, pageTimeout, sel.SizeOptions, o.Size); err != nil {
			return nil, err
		}
	}
	if o.Color != "" {
		if err := d.clickOptionByText(runCtx, pageTimeout, sel.ColorOptions, o.Color); err != nil {
			return nil, err
		}
	}

	if o.Quantity > 1 {
		setQty := fmt.Sprintf(`(() => {
			const el = document.querySelector(%q);
			if (!el) return false;
			el.value = %d;
			el.dispatchEvent(new Event("input", {bubbles: true}));
			el.dispatchEvent(new Event("change", {bubbles: true}));
			return true;
		})()`, sel.QuantityInput, o.Quantity)
		var ok bool
		if err := runTimed(runCtx, pageTimeout, chromedp.Evaluate(setQty, &ok)); err != nil {
			return nil, classify(err)
		}
		if !ok {
			return nil, fmt.Errorf("quantity input %q not found", sel.QuantityInput)
		}
	}

	var priceText string
	_ = runTimed(runCtx, 2*time.Second, chromedp.Text(sel.Price, &priceText, chromedp.ByQuery))
	price := parsePrice(priceText)

	// Click and require the confirmation indicator.
	if err := runTimed(runCtx, pageTimeout, chromedp.Click(sel.AddButton, chromedp.ByQuery)); err != nil {
		return nil, classify(err)
	}
	if err := runTimed(runCtx, confirmTimeout, chromedp.WaitVisible(sel.SuccessToast, chromedp.ByQuery)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return price, ErrCartNotConfirmed
		}
		return price, classify(err)
	}

	return price, nil
}

// clickOptionByText clicks the option element whose trimmed text equals want
// (case-insensitive). A missing or disabled option is ErrVariantUnavailable.
func (d *ChromeDriver) clickOptionByText(ctx context.Context, timeout time.Duration, optionSel, want string) error {
	js := fmt.Sprintf(`(() => {
		const want = %q.trim().toLowerCase();
		for (const el of document.querySelectorAll(%q)) {
			if (el.textContent.trim().toLowerCase() !== want) continue;
			if (el.classList.contains("disabled") || el.getAttribute("aria-disabled") === "true") return "disabled";
			el.click();
			return "ok";
		}
		return "missing";
	})()`, want, optionSel)

	var outcome string
	if err := runTimed(ctx, timeout, chromedp.Evaluate(js, &outcome)); err != nil {
		return classify(err)
	}
	if outcome != "ok" {
		return fmt.Errorf("option %q %s: %w", want, outcome, ErrVariantUnavailable)
	}
	return nil
}

// runTimed runs the actions under their own deadline derived from ctx.
func runTimed(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return chromedp.Run(tctx, actions...)
}

// mergeDeadline derives a child of the browser context that also honors the
// caller's cancellation and deadline. chromedp actions must run on the
// browser context chain, so the caller's ctx cannot be used directly.
func mergeDeadline(browserCtx, callerCtx context.Context) (context.Context, context.CancelFunc) {
	if dl, ok := callerCtx.Deadline(); ok {
		return context.WithDeadline(browserCtx, dl)
	}
	ctx, cancel := context.WithCancel(browserCtx)
	stop := context.AfterFunc(callerCtx, cancel)
	return ctx, func() { stop(); cancel() }
}

// classify maps context errors to the taxonomy; everything else passes
// through for the executor's default retry policy.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrAutomationTimeout, err)
	}
	return err
}

// existsJS returns a JS expression testing selector presence.
func existsJS(selector string) string {
	return fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
}

var priceRE = regexp.MustCompile(`\d+(?:[.,]\d{1,2})?`)

// parsePrice extracts the first monetary amount from storefront price text
// ("12,99 €" or "€12.99"). Returns nil when no amount is present.
func parsePrice(text string) *decimal.Decimal {
	m := priceRE.FindString(text)
	if m == "" {
		return nil
	}
	m = strings.ReplaceAll(m, ",", ".")
	p, err := decimal.NewFromString(m)
	if err != nil {
		return nil
	}
	return &p
}
