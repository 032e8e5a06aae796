/*
 *
 * xk6-browser - a browser automation extension for k6
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"context"
	"slices"
	"sync"
)

const (
	// BrowserContext

	EventBrowserContextPage  string = "page"
	EventBrowserContextClose string = "close"

	// Page

	EventPageRequest         string = "request"
	EventPageResponse        string = "response"
	EventPageRequestFailed   string = "requestfailed"
	EventPageRequestFinished string = "requestfinished"
	EventPageDialog          string = "dialog"
	EventPagePopup           string = "popup"
	EventPageFrameNavigated  string = "framenavigated"
	EventPageClose           string = "close"
)

// Event as emitted by an EventEmitter.
type Event struct {
	typ  string
	data any
}

// Type returns the event name.
func (e Event) Type() string { return e.typ }

// Data returns the event payload.
func (e Event) Data() any { return e.data }

// eventHandler owns a queue so that a slow reader never blocks emit. A pump
// goroutine moves queued events to ch until ctx is done.
type eventHandler struct {
	ctx    context.Context
	ch     chan Event
	events []string // nil means all events

	mu     sync.Mutex
	queue  []Event
	signal chan struct{}
}

func (h *eventHandler) wants(event string) bool {
	return h.events == nil || slices.Contains(h.events, event)
}

func (h *eventHandler) push(ev Event) {
	h.mu.Lock()
	h.queue = append(h.queue, ev)
	h.mu.Unlock()

	select {
	case h.signal <- struct{}{}:
	default:
	}
}

func (h *eventHandler) pump() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-h.signal:
		}
		for {
			h.mu.Lock()
			if len(h.queue) == 0 {
				h.mu.Unlock()
				break
			}
			ev := h.queue[0]
			h.queue[0] = Event{}
			h.queue = h.queue[1:]
			h.mu.Unlock()

			select {
			case h.ch <- ev:
			case <-h.ctx.Done():
				return
			}
		}
	}
}

// EventEmitter that all event emitters need to implement.
type EventEmitter interface {
	emit(event string, data any)
	on(ctx context.Context, events []string, ch chan Event)
	onAll(ctx context.Context, ch chan Event)
}

// BaseEventEmitter emits events to registered handlers. Handlers are
// removed once their context is done. The zero value is ready to use.
type BaseEventEmitter struct {
	mu       sync.Mutex
	handlers []*eventHandler
}

// emit queues the event for every live handler before returning, so any
// handler registered before the call is guaranteed to see it.
func (e *BaseEventEmitter) emit(event string, data any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	live := e.handlers[:0]
	for _, h := range e.handlers {
		if h.ctx.Err() != nil {
			continue
		}
		live = append(live, h)
		if h.wants(event) {
			h.push(Event{typ: event, data: data})
		}
	}
	clear(e.handlers[len(live):])
	e.handlers = live
}

// on registers a handler for specific events.
func (e *BaseEventEmitter) on(ctx context.Context, events []string, ch chan Event) {
	e.add(ctx, slices.Clone(events), ch)
}

// onAll registers a handler for all events.
func (e *BaseEventEmitter) onAll(ctx context.Context, ch chan Event) {
	e.add(ctx, nil, ch)
}

func (e *BaseEventEmitter) add(ctx context.Context, events []string, ch chan Event) {
	h := &eventHandler{
		ctx:    ctx,
		ch:     ch,
		events: events,
		signal: make(chan struct{}, 1),
	}
	e.mu.Lock()
	e.handlers = append(e.handlers, h)
	e.mu.Unlock()

	go h.pump()
}
