// internal/browser/pw/dialog.go
package pw

import (
	"fmt"
	"sync"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/engine"
)

func (s *Session) OnDialog(handler func(engine.Dialog)) {
	s.mu.Lock()
	s.handlers = append(s.handlers, handler)
	s.mu.Unlock()
}

// dispatchDialog runs on the driver's event goroutine. Playwright expects
// the dialog to be answered from the listener.
func (s *Session) dispatchDialog(pd playwright.Dialog) {
	s.mu.Lock()
	handlers := append([]func(engine.Dialog){}, s.handlers...)
	s.mu.Unlock()

	d := &dialog{pd: pd}
	if len(handlers) == 0 {
		s.logger.Warn("Dismissing dialog with no subscriber.", zap.String("message", pd.Message()))
		if err := d.Dismiss(); err != nil {
			s.logger.Error("Failed to dismiss dialog.", zap.Error(err))
		}
		return
	}
	for _, h := range handlers {
		h(d)
	}
}

type dialog struct {
	pd   playwright.Dialog
	once sync.Once
}

func dialogKind(t string) engine.DialogKind {
	switch t {
	case "confirm":
		return engine.DialogConfirm
	case "prompt":
		return engine.DialogPrompt
	case "beforeunload":
		return engine.DialogBeforeUnload
	}
	return engine.DialogAlert
}

func (d *dialog) Kind() engine.DialogKind { return dialogKind(d.pd.Type()) }
func (d *dialog) Message() string         { return d.pd.Message() }
func (d *dialog) DefaultValue() string    { return d.pd.DefaultValue() }

func (d *dialog) Accept(promptText string) error {
	return d.answer(func() error {
		if promptText != "" {
			return d.pd.Accept(promptText)
		}
		return d.pd.Accept()
	})
}

func (d *dialog) Dismiss() error { return d.answer(d.pd.Dismiss) }

func (d *dialog) answer(fn func() error) error {
	err := fmt.Errorf("dialog already answered")
	d.once.Do(func() { err = fn() })
	return err
}
