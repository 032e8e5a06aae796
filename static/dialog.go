package static

import (
	"context"
	"errors"
	"sync"

	cdppage "github.com/chromedp/cdproto/page"

	"github.com/liuxd6825/autowait/common"
)

var errDialogHandled = errors.New("dialog is already handled")

type dialogResolver struct {
	once   sync.Once
	result chan DialogResult
	base   DialogResult
}

var _ common.DialogResolver = &dialogResolver{}

func (r *dialogResolver) resolve(accepted bool, text string) error {
	resolved := false
	r.once.Do(func() {
		res := r.base
		res.Accepted, res.PromptText = accepted, text
		r.result <- res
		resolved = true
	})
	if !resolved {
		return errDialogHandled
	}
	return nil
}

func (r *dialogResolver) Accept(_ context.Context, promptText string) error {
	return r.resolve(true, promptText)
}

func (r *dialogResolver) Dismiss(_ context.Context) error {
	return r.resolve(false, "")
}

// ShowDialog opens a native dialog and blocks until it's accepted or
// dismissed.
func (p *Page) ShowDialog(
	ctx context.Context, typ cdppage.DialogType, message, defaultValue string,
) (DialogResult, error) {
	if p.isClosed() {
		return DialogResult{}, ErrPageClosed
	}
	r := &dialogResolver{
		result: make(chan DialogResult, 1),
		base:   DialogResult{Type: typ, Message: message},
	}
	p.bctx.emit(common.BackendEvent{
		Type:   common.BackendDialog,
		PageID: p.id,
		Dialog: &common.DialogData{
			Type:         typ,
			Message:      message,
			DefaultValue: defaultValue,
		},
		Resolver: r,
	})

	select {
	case res := <-r.result:
		p.mu.Lock()
		p.dialogs = append(p.dialogs, res)
		p.mu.Unlock()
		return res, nil
	case <-ctx.Done():
		return DialogResult{}, ctx.Err() //nolint:wrapcheck
	case <-p.done:
		return DialogResult{}, ErrPageClosed
	}
}
