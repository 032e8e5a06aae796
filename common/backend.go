package common

import (
	"context"
	"errors"

	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
)

// The engine only reads documents and triggers input. Everything it needs
// from the browser is described by the interfaces in this file; an
// implementation lives in package static.

// ErrNodeNotFound is returned by backends when an operation targets a node
// that no longer exists. The engine treats it as "not attached" and retries.
var ErrNodeNotFound = errors.New("node not found")

// NodeID identifies a node of a page. A node keeps its ID for as long as it
// stays in the document, so successive snapshots agree on identity.
type NodeID string

// NodeKind is the DOM node type of a NodeID.
type NodeKind int

// Node kinds.
const (
	ElementNode NodeKind = iota
	DocumentNode
	ShadowRootNode
)

// Rect is a bounding box in page coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the point at the middle of the box.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Empty reports whether the box has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// NodeInfo is the state of a single node in a snapshot.
type NodeInfo struct {
	ID     NodeID
	Kind   NodeKind
	Parent NodeID
	// Tag is the lower-case tag name of elements.
	Tag   string
	Attrs map[string]string
	// Text is the textContent of the node.
	Text string
	// InnerText is the rendered text of the node.
	InnerText string
	// HTML is the inner HTML of the node.
	HTML string
	// Value is the current value of form controls.
	Value   string
	Checked bool
	// Selected holds the values of the selected options of a <select>.
	Selected []string
	// Files holds the names of the files set on an <input type=file>.
	Files []string
	// Hidden is true when the computed visibility is hidden.
	Hidden  bool
	Focused bool
}

// Attr returns the value of an attribute and whether it's present.
func (n NodeInfo) Attr(name string) (string, bool) {
	v, ok := n.Attrs[name]
	return v, ok
}

// AXNode is a node of the accessibility tree.
type AXNode struct {
	ID       NodeID
	Role     string
	Name     string
	Level    int
	Checked  string // "true", "false", "mixed" or "" if not checkable
	Pressed  string
	Selected bool
	Expanded string
	Disabled bool
	Hidden   bool
	// Labels holds the texts of the labels associated with a control,
	// including aria-label and aria-labelledby.
	Labels []string
}

// Document is an immutable snapshot of a page. It's only valid for reading;
// node IDs taken from it can be handed back to the PageBackend.
type Document interface {
	Root() NodeID
	URL() string
	Title() string
	Node(id NodeID) (NodeInfo, bool)
	// Children returns the element children of a node.
	Children(id NodeID) []NodeID
	// Elements returns every element below root in document order. Open
	// shadow roots are pierced, frames are not.
	Elements(root NodeID) []NodeID
	QueryCSS(root NodeID, expr string) ([]NodeID, error)
	QueryXPath(root NodeID, expr string) ([]NodeID, error)
	// AXTree returns the accessibility nodes below root in document order.
	AXTree(root NodeID) []AXNode
	Contains(ancestor, node NodeID) bool
	// Compare orders two nodes in document order.
	Compare(a, b NodeID) int
	ContentDocument(frameOwner NodeID) (NodeID, bool)
	ShadowRoot(host NodeID) (NodeID, bool)
	BoundingBox(id NodeID) (Rect, bool)
	// HitTest returns the element that receives pointer events at a point.
	HitTest(x, y float64) (NodeID, bool)
}

// InputKind is the kind of input dispatched to a node.
type InputKind string

// Input kinds.
const (
	InputClick         InputKind = "click"
	InputDblclick      InputKind = "dblclick"
	InputTap           InputKind = "tap"
	InputHover         InputKind = "hover"
	InputFocus         InputKind = "focus"
	InputFill          InputKind = "fill"
	InputPress         InputKind = "press"
	InputType          InputKind = "type"
	InputSelectOption  InputKind = "selectOption"
	InputSetInputFiles InputKind = "setInputFiles"
	InputScroll        InputKind = "scroll"
	InputDispatchEvent InputKind = "dispatchEvent"
)

// InputFile is a file handed to an <input type=file>.
type InputFile struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Buffer   []byte `json:"buffer"`
}

// InputAction is the payload of a dispatch.
type InputAction struct {
	Kind      InputKind
	X, Y      float64
	Text      string
	Key       string
	Values    []string
	Files     []InputFile
	EventType string
	Modifiers []string
}

// RequestData describes an outgoing request as seen by the backend.
type RequestData struct {
	ID           string
	URL          string
	Method       string
	Headers      map[string]string
	PostData     []byte
	ResourceType string
	IsNavigation bool
}

// ResponseData describes a response as seen by the backend.
type ResponseData struct {
	RequestID  string
	URL        string
	Status     int
	StatusText string
	Headers    map[string]string
	Body       []byte
}

// RouteResolver decides the fate of a paused request.
type RouteResolver interface {
	Fulfill(ctx context.Context, opts FulfillOptions) error
	Continue(ctx context.Context, opts ContinueOptions) error
	Abort(ctx context.Context, reason network.ErrorReason) error
}

// DialogResolver closes a native dialog.
type DialogResolver interface {
	Accept(ctx context.Context, promptText string) error
	Dismiss(ctx context.Context) error
}

// DialogData describes a native dialog.
type DialogData struct {
	Type         cdppage.DialogType
	Message      string
	DefaultValue string
}

// BackendEventType is the type of an event emitted by a ContextBackend.
type BackendEventType string

// Backend event types.
const (
	BackendRequest        BackendEventType = "request"
	BackendRequestPaused  BackendEventType = "requestpaused"
	BackendResponse       BackendEventType = "response"
	BackendRequestFailed  BackendEventType = "requestfailed"
	BackendDialog         BackendEventType = "dialog"
	BackendNavigated      BackendEventType = "framenavigated"
	BackendPageCreated    BackendEventType = "pagecreated"
	BackendPageClosed     BackendEventType = "pageclosed"
	BackendContextClosed  BackendEventType = "contextclosed"
	BackendRequestSettled BackendEventType = "requestfinished"
)

// BackendEvent is a single event of a ContextBackend's event stream.
// Only the fields relevant to Type are set.
type BackendEvent struct {
	Type     BackendEventType
	PageID   string
	Request  *RequestData
	Response *ResponseData
	Route    RouteResolver
	Dialog   *DialogData
	Resolver DialogResolver
	URL      string
	Page     PageBackend
	OpenerID string
	Failure  string
}

// PageBackend is a single page (tab) of a browsing context.
type PageBackend interface {
	ID() string
	Snapshot(ctx context.Context) (Document, error)
	Dispatch(ctx context.Context, node NodeID, action InputAction) error
	Navigate(ctx context.Context, url string) error
	// SetContent replaces the document without a navigation.
	SetContent(ctx context.Context, html string) error
	Close(ctx context.Context) error
}

// ContextBackendOptions are handed to the backend when creating a context.
type ContextBackendOptions struct {
	BaseURL          string
	ExtraHTTPHeaders map[string]string
	// StorageState is passed through unmodified.
	StorageState []byte
}

// ContextBackend is a browsing context: an isolated set of pages sharing
// cookies and storage.
type ContextBackend interface {
	ID() string
	NewPage(ctx context.Context) (PageBackend, error)
	// Events returns the context's event stream. The channel is closed when
	// the context goes away.
	Events() <-chan BackendEvent
	// SetRequestInterception turns BackendRequestPaused events on or off.
	SetRequestInterception(ctx context.Context, enabled bool) error
	StorageState(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}

// BrowserBackend creates browsing contexts.
type BrowserBackend interface {
	NewContext(ctx context.Context, opts ContextBackendOptions) (ContextBackend, error)
}
