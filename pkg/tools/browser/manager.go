// Package browser exposes the agent's browser capabilities as registry
// tools backed by Playwright. A Manager owns one browser with one context;
// tabs are pages addressed by numeric IDs, mirroring how the model talks
// about them.
package browser

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kelvincushman/browserclaw/pkg/logging"
	"github.com/kelvincushman/browserclaw/pkg/policy"
)

const (
	// DefaultViewportWidth and DefaultViewportHeight size new tabs.
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800

	// DefaultNavigationTimeout bounds page loads.
	DefaultNavigationTimeout = 30 * time.Second

	// DefaultMaxTabs caps concurrently open tabs.
	DefaultMaxTabs = 16
)

// TabInfo is the model-facing description of one open tab.
type TabInfo struct {
	ID     int    `json:"id"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Active bool   `json:"active"`
}

// Manager owns the Playwright lifecycle and the open tab set. All methods
// are safe for concurrent use; tool fan-out may hit several tabs at once.
type Manager struct {
	mu       sync.Mutex
	pw       *playwright.Playwright
	browser  playwright.Browser
	context  playwright.BrowserContext
	tabs     map[int]playwright.Page
	nextID   int
	activeID int
	headless bool
	maxTabs  int
	policy   policy.Service
	log      *logging.Logger
	started  bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHeadless controls whether the browser runs headless. Default true.
func WithHeadless(headless bool) ManagerOption {
	return func(m *Manager) { m.headless = headless }
}

// WithMaxTabs caps the number of concurrently open tabs.
func WithMaxTabs(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxTabs = n
		}
	}
}

// WithPolicy makes the manager consult the policy service before any
// navigation. Navigation to a disallowed host fails with the denial reason.
func WithPolicy(service policy.Service) ManagerOption {
	return func(m *Manager) { m.policy = service }
}

// NewManager creates an unstarted manager.
func NewManager(opts ...ManagerOption) *Manager {
	log, _ := logging.NewLogger("browser")
	m := &Manager{
		tabs:     make(map[int]playwright.Page),
		headless: true,
		maxTabs:  DefaultMaxTabs,
		log:      log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start installs and boots Playwright and launches the browser. Idempotent.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(runOpts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(m.headless),
	})
	if err != nil {
		pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	context, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: DefaultViewportWidth, Height: DefaultViewportHeight},
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return fmt.Errorf("failed to create browser context: %w", err)
	}

	m.pw = pw
	m.browser = browser
	m.context = context
	m.started = true
	m.log.Infof("browser started (headless=%v)", m.headless)
	return nil
}

// Started reports whether the browser is running.
func (m *Manager) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// OpenTab opens a new tab and, when url is non-empty, navigates it.
func (m *Manager) OpenTab(url string) (TabInfo, error) {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return TabInfo{}, fmt.Errorf("browser not started")
	}
	if len(m.tabs) >= m.maxTabs {
		m.mu.Unlock()
		return TabInfo{}, fmt.Errorf("maximum number of tabs (%d) reached", m.maxTabs)
	}
	if err := m.checkPolicy(url); err != nil {
		m.mu.Unlock()
		return TabInfo{}, err
	}

	page, err := m.context.NewPage()
	if err != nil {
		m.mu.Unlock()
		return TabInfo{}, fmt.Errorf("failed to open tab: %w", err)
	}
	m.nextID++
	id := m.nextID
	m.tabs[id] = page
	m.activeID = id
	m.mu.Unlock()

	if url != "" {
		if err := m.goTo(page, url); err != nil {
			m.CloseTab(id)
			return TabInfo{}, err
		}
	}
	return m.tabInfo(id, page), nil
}

// CloseTab closes the tab with the given ID.
func (m *Manager) CloseTab(id int) error {
	m.mu.Lock()
	page, ok := m.tabs[id]
	if ok {
		delete(m.tabs, id)
		if m.activeID == id {
			m.activeID = 0
			for remaining := range m.tabs {
				m.activeID = remaining
				break
			}
		}
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("tab %d not found", id)
	}
	if err := page.Close(); err != nil {
		return fmt.Errorf("failed to close tab %d: %w", id, err)
	}
	return nil
}

// Navigate points an existing tab at a URL, subject to the policy service.
func (m *Manager) Navigate(id int, url string) (TabInfo, error) {
	page, err := m.page(id)
	if err != nil {
		return TabInfo{}, err
	}
	m.mu.Lock()
	err = m.checkPolicy(url)
	if err == nil {
		m.activeID = id
	}
	m.mu.Unlock()
	if err != nil {
		return TabInfo{}, err
	}
	if err := m.goTo(page, url); err != nil {
		return TabInfo{}, err
	}
	return m.tabInfo(id, page), nil
}

// Tabs lists every open tab.
func (m *Manager) Tabs() []TabInfo {
	m.mu.Lock()
	ids := make([]int, 0, len(m.tabs))
	pages := make(map[int]playwright.Page, len(m.tabs))
	for id, page := range m.tabs {
		ids = append(ids, id)
		pages[id] = page
	}
	m.mu.Unlock()

	sort.Ints(ids)
	infos := make([]TabInfo, 0, len(ids))
	for _, id := range ids {
		infos = append(infos, m.tabInfo(id, pages[id]))
	}
	return infos
}

// Content returns the raw HTML of a tab.
func (m *Manager) Content(id int) (string, error) {
	page, err := m.page(id)
	if err != nil {
		return "", err
	}
	content, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read tab %d content: %w", id, err)
	}
	return content, nil
}

// Screenshot captures a PNG of the tab's viewport.
func (m *Manager) Screenshot(id int) ([]byte, error) {
	page, err := m.page(id)
	if err != nil {
		return nil, err
	}
	data, err := page.Screenshot(playwright.PageScreenshotOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to screenshot tab %d: %w", id, err)
	}
	return data, nil
}

// Shutdown closes every tab and stops Playwright.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}

	for id, page := range m.tabs {
		page.Close()
		delete(m.tabs, id)
	}
	m.context.Close()
	m.browser.Close()
	err := m.pw.Stop()
	m.started = false
	if err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

func (m *Manager) page(id int) (playwright.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page, ok := m.tabs[id]
	if !ok {
		return nil, fmt.Errorf("tab %d not found", id)
	}
	return page, nil
}

// checkPolicy rejects navigation to disallowed hosts. Caller holds m.mu.
func (m *Manager) checkPolicy(url string) error {
	if url == "" || m.policy == nil {
		return nil
	}
	if decision := m.policy.IsHostAllowed(url); !decision.Allowed {
		m.log.Infof("navigation to %s denied: %s", url, decision.Reason)
		return fmt.Errorf("%s", decision.Reason)
	}
	return nil
}

func (m *Manager) goTo(page playwright.Page, url string) error {
	timeout := float64(DefaultNavigationTimeout.Milliseconds())
	if _, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   &timeout,
	}); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (m *Manager) tabInfo(id int, page playwright.Page) TabInfo {
	title, _ := page.Title()
	m.mu.Lock()
	active := m.activeID == id
	m.mu.Unlock()
	return TabInfo{
		ID:     id,
		URL:    page.URL(),
		Title:  title,
		Active: active,
	}
}
