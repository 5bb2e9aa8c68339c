// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"regexp"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/steady/internal/config"
	"github.com/xkilldash9x/steady/internal/engine"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) Passcode() config.PasscodeConfig {
	args := m.Called()
	return args.Get(0).(config.PasscodeConfig)
}

func (m *MockConfig) Runner() config.RunnerConfig {
	args := m.Called()
	return args.Get(0).(config.RunnerConfig)
}

func (m *MockConfig) SetBrowserDriver(d string)    { m.Called(d) }
func (m *MockConfig) SetBrowserHeadless(b bool)    { m.Called(b) }
func (m *MockConfig) SetRunnerReportPath(p string) { m.Called(p) }

// NewMockConfigFrom returns a MockConfig whose getters answer with cfg's
// sections. Tests that need a different section can override it with
// another On call before use.
func NewMockConfigFrom(cfg *config.Config) *MockConfig {
	m := new(MockConfig)
	m.On("Logger").Return(cfg.Logger()).Maybe()
	m.On("Browser").Return(cfg.Browser()).Maybe()
	m.On("Engine").Return(cfg.Engine()).Maybe()
	m.On("Passcode").Return(cfg.Passcode()).Maybe()
	m.On("Runner").Return(cfg.Runner()).Maybe()
	return m
}

// -- Driver Mock --

// MockDriver mocks a browser session: engine.Port plus engine.Navigator.
// Dialog subscription is not mocked; RaiseDialog delivers to subscribers.
type MockDriver struct {
	mock.Mock

	mu       sync.Mutex
	handlers []func(engine.Dialog)
}

var (
	_ engine.Port      = (*MockDriver)(nil)
	_ engine.Navigator = (*MockDriver)(nil)
)

func (m *MockDriver) OnDialog(handler func(engine.Dialog)) {
	m.mu.Lock()
	m.handlers = append(m.handlers, handler)
	m.mu.Unlock()
}

// RaiseDialog synchronously delivers d to every subscriber.
func (m *MockDriver) RaiseDialog(d engine.Dialog) {
	m.mu.Lock()
	handlers := append([]func(engine.Dialog){}, m.handlers...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(d)
	}
}

func (m *MockDriver) ListDocuments(ctx context.Context) ([]engine.Document, error) {
	args := m.Called(ctx)
	if docs := args.Get(0); docs != nil {
		return docs.([]engine.Document), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDriver) FindAll(ctx context.Context, d engine.Descriptor, doc engine.Document) ([]engine.Handle, error) {
	args := m.Called(ctx, d, doc)
	if hs := args.Get(0); hs != nil {
		return hs.([]engine.Handle), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDriver) IsActionable(ctx context.Context, h engine.Handle) (bool, error) {
	args := m.Called(ctx, h)
	return args.Bool(0), args.Error(1)
}

// ReadGeometry returns the configured geometry. A func() engine.Geometry
// return value is called on every read, for targets that move over time.
func (m *MockDriver) ReadGeometry(ctx context.Context, h engine.Handle) (engine.Geometry, error) {
	args := m.Called(ctx, h)
	if next, ok := args.Get(0).(func() engine.Geometry); ok {
		return next(), args.Error(1)
	}
	return args.Get(0).(engine.Geometry), args.Error(1)
}

func (m *MockDriver) Dispatch(ctx context.Context, h engine.Handle, a engine.Action) error {
	return m.Called(ctx, h, a).Error(0)
}

func (m *MockDriver) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockDriver) URL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) WaitForURL(ctx context.Context, pattern *regexp.Regexp) error {
	return m.Called(ctx, pattern).Error(0)
}

func (m *MockDriver) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

// -- Dialog Mock --

// MockDialog mocks engine.Dialog.
type MockDialog struct {
	mock.Mock
}

var _ engine.Dialog = (*MockDialog)(nil)

func (m *MockDialog) Kind() engine.DialogKind        { return m.Called().Get(0).(engine.DialogKind) }
func (m *MockDialog) Message() string                { return m.Called().String(0) }
func (m *MockDialog) DefaultValue() string           { return m.Called().String(0) }
func (m *MockDialog) Accept(promptText string) error { return m.Called(promptText).Error(0) }
func (m *MockDialog) Dismiss() error                 { return m.Called().Error(0) }

// -- Plain test doubles --

// Doc is a static engine.Document.
type Doc struct {
	DocID   string
	DocURL  string
	DocName string
	Top     bool
}

func (d *Doc) ID() string   { return d.DocID }
func (d *Doc) URL() string  { return d.DocURL }
func (d *Doc) Name() string { return d.DocName }
func (d *Doc) IsTop() bool  { return d.Top }

// Handle is a static engine.Handle.
type Handle struct {
	Label string
	Doc   engine.Document
}

func (h *Handle) Document() engine.Document { return h.Doc }
func (h *Handle) String() string            { return h.Label }
