// Package session manages the pool of authenticated browser sessions the
// cart automation runs on. Each session is a dedicated headless Chrome
// instance with its own user-data directory, seeded from a cookie-jar JSON
// file exported after a manual login. The manager hands sessions out one
// borrower at a time, probes login state, and tries a cookie refresh before
// declaring a session dead and alerting the admin.
//
// Credentials never live in code or config: only the cookie files carry
// authentication material, and they stay on disk outside the repository.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/adiouf/go-cart-backend/internal/notify"
)

// ErrNoSession is returned by Acquire when no healthy session is available
// within the caller's deadline.
var ErrNoSession = errors.New("no valid browser session available")

// Cookie is one entry of a cookie-jar file. The shape matches what browser
// devtools and WebDriver exports produce, so jars can be captured by hand.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expiry,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// Session is one authenticated browser. The browser context is long-lived;
// borrowers derive their own timeout contexts from it per operation.
type Session struct {
	// Name identifies the session in logs ("session_1").
	Name string
	// CookieFile is the jar this session was seeded from.
	CookieFile string

	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc

	mu       sync.Mutex
	healthy  bool
	lastSeen time.Time
}

// BrowserCtx returns the session's browser context for chromedp.Run calls.
func (s *Session) BrowserCtx() context.Context { return s.browserCtx }

// Healthy reports whether the session passed its last login probe.
func (s *Session) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

func (s *Session) setHealthy(ok bool) {
	s.mu.Lock()
	s.healthy = ok
	if ok {
		s.lastSeen = time.Now()
	}
	s.mu.Unlock()
}

// Config carries the manager's browser and pool settings.
type Config struct {
	// Count is the number of sessions (and cookie jars) to run.
	Count int
	// CookiesDir holds session_N.json jars.
	CookiesDir string
	// BaseURL is the storefront root.
	BaseURL string
	// ProbeURL is the page the login probe opens. The cart page works best:
	// it requires authentication, so an expired jar gets bounced to the
	// login page immediately. Falls back to BaseURL when empty.
	ProbeURL string
	// LoginURL is the page an unauthenticated browser gets bounced to.
	LoginURL string
	// JarMaxAge is how old a jar file may be before it is reported as
	// stale. Stale jars still load; cookie expiry is what the probe
	// actually verifies. Zero disables the check.
	JarMaxAge time.Duration
	// Headless and NoSandbox configure Chrome for server environments.
	Headless  bool
	NoSandbox bool
	// ProbeTimeout bounds one login-state check.
	ProbeTimeout time.Duration
}

// Manager owns the session pool.
type Manager struct {
	cfg    Config
	log    zerolog.Logger
	notify notify.Notifier

	pool chan *Session
	all  []*Session

	mu      sync.Mutex
	alerted map[string]bool
}

// NewManager builds a Manager; Start must be called before Acquire.
func NewManager(cfg Config, log zerolog.Logger, n notify.Notifier) *Manager {
	if cfg.Count < 1 {
		cfg.Count = 1
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 15 * time.Second
	}
	return &Manager{
		cfg:     cfg,
		log:     log,
		notify:  n,
		pool:    make(chan *Session, cfg.Count),
		alerted: make(map[string]bool),
	}
}

// Start launches the browsers, seeds their cookies, and probes login state.
// Sessions that fail to start are reported but do not fail Start; the
// executor degrades to however many sessions came up. Start fails only when
// zero sessions are usable.
func (m *Manager) Start(ctx context.Context) error {
	usable := 0
	for i := 1; i <= m.cfg.Count; i++ {
		name := fmt.Sprintf("session_%d", i)
		s, err := m.launch(ctx, name)
		if err != nil {
			m.log.Error().Err(err).Str("session", name).Msg("session start failed")
			m.alertOnce(ctx, name, err)
			continue
		}
		m.all = append(m.all, s)
		m.pool <- s
		usable++
		m.log.Info().Str("session", name).Msg("browser session ready")
	}
	if usable == 0 {
		return fmt.Errorf("no usable browser session out of %d", m.cfg.Count)
	}
	return nil
}

// launch starts one Chrome instance, injects its jar, and verifies login.
func (m *Manager) launch(ctx context.Context, name string) (*Session, error) {
	jar := filepath.Join(m.cfg.CookiesDir, name+".json")
	cookies, err := loadJar(jar)
	if err != nil {
		return nil, err
	}
	m.warnStaleJar(jar)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("lang", "fr-FR"),
		chromedp.UserDataDir(filepath.Join(os.TempDir(), "cart-"+name)),
	)
	if m.cfg.NoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserStop := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			m.log.Debug().Str("session", name).Msgf(format, args...)
		}),
	)

	s := &Session{
		Name:        name,
		CookieFile:  jar,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		browserCtx:  browserCtx,
		browserStop: browserStop,
	}

	if err := m.seed(ctx, s, cookies); err != nil {
		s.close()
		return nil, err
	}
	if err := m.probe(ctx, s); err != nil {
		s.close()
		return nil, err
	}
	s.setHealthy(true)
	return s, nil
}

// seed injects the jar cookies into the browser.
func (m *Manager) seed(ctx context.Context, s *Session, cookies []Cookie) error {
	probeCtx, cancel := context.WithTimeout(s.browserCtx, m.cfg.ProbeTimeout)
	defer cancel()

	return chromedp.Run(probeCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			cp := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithHTTPOnly(c.HTTPOnly).
				WithSecure(c.Secure)
			if c.Expires > 0 {
				t := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
				cp = cp.WithExpires(&t)
			}
			if err := cp.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

// probe opens the storefront and checks the browser is not bounced to the
// login page. A bounce means the jar has expired.
func (m *Manager) probe(ctx context.Context, s *Session) error {
	probeCtx, cancel := context.WithTimeout(s.browserCtx, m.cfg.ProbeTimeout)
	defer cancel()

	target := m.cfg.ProbeURL
	if target == "" {
		target = m.cfg.BaseURL
	}
	var loc string
	err := chromedp.Run(probeCtx,
		chromedp.Navigate(target),
		chromedp.Location(&loc),
	)
	if err != nil {
		return fmt.Errorf("login probe: %w", err)
	}
	if m.cfg.LoginURL != "" && strings.HasPrefix(loc, m.cfg.LoginURL) {
		return fmt.Errorf("session %s not authenticated (redirected to %s)", s.Name, loc)
	}
	return nil
}

// Acquire hands out a healthy session, blocking until one is released or the
// context ends. Each session has exactly one borrower at a time, which is
// what serializes cart actions per browser.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	for {
		select {
		case s := <-m.pool:
			if s.Healthy() {
				return s, nil
			}
			// Dead sessions are dropped from rotation until refreshed.
		case <-ctx.Done():
			return nil, ErrNoSession
		}
	}
}

// Release returns a borrowed session to the pool.
func (m *Manager) Release(s *Session) {
	if s == nil || !s.Healthy() {
		return
	}
	select {
	case m.pool <- s:
	default:
		// Pool full means a double release; drop it rather than block.
	}
}

// Invalidate marks a session as unauthenticated, attempts a refresh from its
// jar file, and alerts the admin when the refresh fails. A refreshed session
// goes straight back into rotation.
func (m *Manager) Invalidate(ctx context.Context, s *Session, reason string) {
	if s == nil {
		return
	}
	s.setHealthy(false)
	m.log.Warn().Str("session", s.Name).Str("reason", reason).Msg("session invalidated")

	if err := m.refresh(ctx, s); err != nil {
		m.log.Error().Err(err).Str("session", s.Name).Msg("session refresh failed")
		m.alertOnce(ctx, s.Name, err)
		return
	}
	s.setHealthy(true)
	m.clearAlert(s.Name)
	m.Release(s)
	m.log.Info().Str("session", s.Name).Msg("session refreshed")
}

// refresh re-reads the jar and re-probes. It recovers sessions whose jar was
// replaced on disk after a fresh manual login.
func (m *Manager) refresh(ctx context.Context, s *Session) error {
	cookies, err := loadJar(s.CookieFile)
	if err != nil {
		return err
	}
	m.warnStaleJar(s.CookieFile)
	if err := m.seed(ctx, s, cookies); err != nil {
		return err
	}
	return m.probe(ctx, s)
}

// alertOnce notifies the admin about a dead session, at most once until the
// session recovers.
func (m *Manager) alertOnce(ctx context.Context, name string, cause error) {
	m.mu.Lock()
	already := m.alerted[name]
	m.alerted[name] = true
	m.mu.Unlock()
	if already || m.notify == nil {
		return
	}
	msg := fmt.Sprintf("⚠️ Session navigateur %s invalide, reconnexion manuelle requise: %v", name, cause)
	if err := m.notify.AlertAdmin(ctx, msg); err != nil {
		m.log.Error().Err(err).Str("session", name).Msg("admin alert failed")
	}
}

func (m *Manager) clearAlert(name string) {
	m.mu.Lock()
	delete(m.alerted, name)
	m.mu.Unlock()
}

// Close shuts down every browser. Borrowed sessions are closed too; callers
// must not use sessions after Close.
func (m *Manager) Close() {
	for _, s := range m.all {
		s.close()
	}
}

func (s *Session) close() {
	if s.browserStop != nil {
		s.browserStop()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}

// warnStaleJar logs when a jar file has not been re-exported within the
// configured horizon. The probe decides whether cookies still work; this is
// an early hint for the operator.
func (m *Manager) warnStaleJar(path string) {
	if m.cfg.JarMaxAge <= 0 {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if age := time.Since(info.ModTime()); age > m.cfg.JarMaxAge {
		m.log.Warn().Str("jar", path).Dur("age", age).Msg("cookie jar older than session TTL")
	}
}

// loadJar reads and decodes a cookie-jar file.
func loadJar(path string) ([]Cookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cookie jar %s: %w", path, err)
	}
	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("decode cookie jar %s: %w", path, err)
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("cookie jar %s is empty", path)
	}
	return cookies, nil
}
