package common

import (
	"context"
	"fmt"
	"sync"

	cdppage "github.com/chromedp/cdproto/page"

	"github.com/liuxd6825/autowait/log"
)

// Dialog types.
const (
	DialogTypeAlert        = cdppage.DialogTypeAlert
	DialogTypeBeforeunload = cdppage.DialogTypeBeforeunload
	DialogTypeConfirm      = cdppage.DialogTypeConfirm
	DialogTypePrompt       = cdppage.DialogTypePrompt
)

// DialogHandler is called for every native dialog a page opens. It should
// accept or dismiss the dialog; if it doesn't, the default policy applies.
type DialogHandler func(ctx context.Context, dialog *Dialog) error

// Dialog is a native alert, confirm, prompt or beforeunload dialog.
type Dialog struct {
	page     *Page
	logger   *log.Logger
	resolver DialogResolver
	data     DialogData

	mu      sync.Mutex
	handled bool
}

func newDialog(page *Page, logger *log.Logger, data DialogData, resolver DialogResolver) *Dialog {
	return &Dialog{
		page:     page,
		logger:   logger,
		resolver: resolver,
		data:     data,
	}
}

// Accept closes the dialog with OK. promptText is the answer to a prompt.
func (d *Dialog) Accept(ctx context.Context, promptText string) error {
	if err := d.startHandling(); err != nil {
		return err
	}
	d.logger.Debugf("Dialog:Accept", "type:%s message:%q", d.data.Type, d.data.Message)

	if err := d.resolver.Accept(ctx, promptText); err != nil {
		return fmt.Errorf("accepting %s dialog: %w", d.data.Type, err)
	}
	return nil
}

// Dismiss closes the dialog with Cancel.
func (d *Dialog) Dismiss(ctx context.Context) error {
	if err := d.startHandling(); err != nil {
		return err
	}
	d.logger.Debugf("Dialog:Dismiss", "type:%s message:%q", d.data.Type, d.data.Message)

	if err := d.resolver.Dismiss(ctx); err != nil {
		return fmt.Errorf("dismissing %s dialog: %w", d.data.Type, err)
	}
	return nil
}

// Type returns the dialog type.
func (d *Dialog) Type() cdppage.DialogType { return d.data.Type }

// Message returns the message shown in the dialog.
func (d *Dialog) Message() string { return d.data.Message }

// DefaultValue returns the default prompt value.
func (d *Dialog) DefaultValue() string { return d.data.DefaultValue }

// Page returns the page that opened the dialog.
func (d *Dialog) Page() *Page { return d.page }

func (d *Dialog) isHandled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handled
}

func (d *Dialog) startHandling() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handled {
		return ErrDialogAlreadyHandled
	}
	d.handled = true
	return nil
}

// defaultDialogHandler accepts alerts and beforeunload dialogs and dismisses
// confirms and prompts, so no wait is ever left blocked behind a dialog.
func defaultDialogHandler(ctx context.Context, d *Dialog) error {
	switch d.Type() {
	case DialogTypeAlert, DialogTypeBeforeunload:
		return d.Accept(ctx, "")
	default:
		return d.Dismiss(ctx)
	}
}

// handleDialog runs handler and falls back to the default policy when the
// handler fails or leaves the dialog open.
func handleDialog(ctx context.Context, handler DialogHandler, d *Dialog) {
	if handler == nil {
		handler = defaultDialogHandler
	}
	if err := handler(ctx, d); err != nil {
		d.logger.Warnf("Dialog:handler", "type:%s err:%v", d.Type(), err)
	}
	if d.isHandled() {
		return
	}
	if err := defaultDialogHandler(ctx, d); err != nil {
		d.logger.Errorf("Dialog:default", "type:%s err:%v", d.Type(), err)
	}
}
