// internal/browser/cdp/dialog.go
package cdp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"go.uber.org/zap"

	"github.com/xkilldash9x/steady/internal/engine"
)

// OnDialog registers handler for every JavaScript dialog the tab raises.
// Handlers run on their own goroutine, never on the event loop.
func (s *Session) OnDialog(handler func(engine.Dialog)) {
	s.mu.Lock()
	s.handlers = append(s.handlers, handler)
	s.mu.Unlock()
}

// dispatchDialog is called from the chromedp event loop, which must not run
// protocol commands itself.
func (s *Session) dispatchDialog(ev *page.EventJavascriptDialogOpening) {
	s.mu.Lock()
	handlers := append([]func(engine.Dialog){}, s.handlers...)
	s.mu.Unlock()

	d := &dialog{session: s, ev: ev}
	go func() {
		if len(handlers) == 0 {
			s.logger.Warn("Dismissing dialog with no subscriber.", zap.String("message", ev.Message))
			if err := d.Dismiss(); err != nil {
				s.logger.Error("Failed to dismiss dialog.", zap.Error(err))
			}
			return
		}
		for _, h := range handlers {
			h(d)
		}
	}()
}

type dialog struct {
	session *Session
	ev      *page.EventJavascriptDialogOpening
	once    sync.Once
}

func (d *dialog) Kind() engine.DialogKind {
	switch d.ev.Type {
	case page.DialogTypeConfirm:
		return engine.DialogConfirm
	case page.DialogTypePrompt:
		return engine.DialogPrompt
	case page.DialogTypeBeforeunload:
		return engine.DialogBeforeUnload
	}
	return engine.DialogAlert
}

func (d *dialog) Message() string      { return d.ev.Message }
func (d *dialog) DefaultValue() string { return d.ev.DefaultPrompt }

func (d *dialog) Accept(promptText string) error { return d.answer(true, promptText) }
func (d *dialog) Dismiss() error                 { return d.answer(false, "") }

// answer sends the response once. Later calls are no-ops.
func (d *dialog) answer(accept bool, text string) error {
	err := fmt.Errorf("dialog already answered")
	d.once.Do(func() {
		ctx, cancel := context.WithTimeout(Detach(d.session.ctx), 10*time.Second)
		defer cancel()
		params := page.HandleJavaScriptDialog(accept)
		if text != "" {
			params = params.WithPromptText(text)
		}
		err = d.session.runActions(ctx, params)
	})
	return err
}
