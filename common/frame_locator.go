package common

const enterFrame = " >> " + engineIControl + "=" + controlEnterFrame + " >> "

// FrameLocator is a locator scoped to the document of an iframe. Like a
// Locator, it is resolved again on every use.
type FrameLocator struct {
	page     *Page
	selector string
	err      error
}

// Locator creates a locator for selector inside the frame.
func (f *FrameLocator) Locator(selector string, opts *LocatorOptions) (*Locator, error) {
	f.page.logger.Debugf("FrameLocator:Locator", "sel:%q subsel:%q opts:%+v", f.selector, selector, opts)

	if f.err != nil {
		return nil, f.err
	}
	return newLocator(f.page, f.selector+enterFrame+selector, opts)
}

func (f *FrameLocator) inner(selector string) *Locator {
	if f.err != nil {
		return &Locator{selector: f.selector, page: f.page, log: f.page.logger, err: f.err}
	}
	return mustLocator(f.page, f.selector+enterFrame+selector)
}

// GetByRole creates a locator matching elements of the frame by ARIA role.
func (f *FrameLocator) GetByRole(role string, opts *GetByRoleOptions) *Locator {
	return f.inner(buildRoleSelector(role, opts))
}

// GetByText creates a locator matching elements of the frame by text.
func (f *FrameLocator) GetByText(text string, opts *GetByTextOptions) *Locator {
	return f.inner(buildTextSelector(text, opts))
}

// GetByLabel creates a locator matching form controls of the frame by label.
func (f *FrameLocator) GetByLabel(text string, opts *GetByTextOptions) *Locator {
	return f.inner(buildLabelSelector(text, opts))
}

// GetByPlaceholder creates a locator matching inputs of the frame by
// placeholder.
func (f *FrameLocator) GetByPlaceholder(text string, opts *GetByTextOptions) *Locator {
	return f.inner(buildAttributeSelector("placeholder", text, opts))
}

// GetByAltText creates a locator matching elements of the frame by alt text.
func (f *FrameLocator) GetByAltText(text string, opts *GetByTextOptions) *Locator {
	return f.inner(buildAttributeSelector("alt", text, opts))
}

// GetByTitle creates a locator matching elements of the frame by title.
func (f *FrameLocator) GetByTitle(text string, opts *GetByTextOptions) *Locator {
	return f.inner(buildAttributeSelector("title", text, opts))
}

// GetByTestID creates a locator matching elements of the frame by test id.
func (f *FrameLocator) GetByTestID(id string) *Locator {
	return f.inner(buildTestIDSelector(f.page.browserCtx.engineOpts.testIDAttribute(), id))
}

// FrameLocator returns a frame locator for an iframe nested in this one.
func (f *FrameLocator) FrameLocator(selector string) (*FrameLocator, error) {
	if f.err != nil {
		return nil, f.err
	}
	full := f.selector + enterFrame + selector
	if _, err := NewSelector(full); err != nil {
		return nil, err
	}
	return &FrameLocator{page: f.page, selector: full}, nil
}

// First narrows the frame locator to the first matching iframe.
func (f *FrameLocator) First() *FrameLocator { return f.Nth(0) }

// Last narrows the frame locator to the last matching iframe.
func (f *FrameLocator) Last() *FrameLocator { return f.Nth(-1) }

// Nth narrows the frame locator to the n-th matching iframe.
func (f *FrameLocator) Nth(nth int) *FrameLocator {
	return f.Owner().Nth(nth).ContentFrame()
}

// Owner returns a locator for the iframe element itself.
func (f *FrameLocator) Owner() *Locator {
	if f.err != nil {
		return &Locator{selector: f.selector, page: f.page, log: f.page.logger, err: f.err}
	}
	return mustLocator(f.page, f.selector)
}
