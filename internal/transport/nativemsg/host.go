package nativemsg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"livereply/internal/chat"
	"livereply/internal/transport"
	logx "livereply/pkg/logx"
)

// Host is both the Source and the Sink of a session driven by the browser
// extension. One Host owns one stdio pair for the life of the process.
type Host struct {
	conn    *Conn
	log     logx.Logger
	version string

	startOnce sync.Once
	inbox     chan Message
	done      chan struct{}
	err       error // set before done is closed

	mu      sync.Mutex
	pending map[string]chan Message
}

type Option func(*Host)

func WithLogger(log logx.Logger) Option { return func(h *Host) { h.log = log } }
func WithVersion(v string) Option       { return func(h *Host) { h.version = v } }

func NewHost(r io.Reader, w io.Writer, opts ...Option) *Host {
	h := &Host{
		conn:    NewConn(r, w),
		inbox:   make(chan Message, 64),
		done:    make(chan struct{}),
		pending: map[string]chan Message{},
	}
	for _, o := range opts {
		o(h)
	}
	if h.log.IsZero() {
		h.log = logx.Nop()
	}
	h.log = h.log.With(logx.Transport("nativemsg"))
	return h
}

func (h *Host) Name() string { return "nativemsg" }

// Done is closed when the extension disconnects (stdin closed or a broken
// frame). Chrome expects the host process to exit then.
func (h *Host) Done() <-chan struct{} { return h.done }

// Err reports why Done was closed.
func (h *Host) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// start launches the single reader. stdin reads cannot be interrupted, so
// the reader outlives any one Run call and ends only with the stream.
func (h *Host) start() {
	h.startOnce.Do(func() {
		if err := h.conn.Write(Message{Action: ActionHello, Version: h.version}); err != nil {
			h.log.Warn("hello failed", logx.Err(err))
		}
		go h.readLoop()
	})
}

func (h *Host) readLoop() {
	for {
		m, err := h.conn.Read()
		if err != nil {
			if errors.Is(err, ErrDecode) {
				h.log.Warn("dropping undecodable message", logx.Err(err))
				continue
			}
			h.err = err
			close(h.done)
			h.failPending()
			return
		}
		switch m.Action {
		case ActionSendResult:
			h.resolve(m)
		case ActionPing:
			if err := h.conn.Write(Message{Action: ActionPong}); err != nil {
				h.log.Warn("pong failed", logx.Err(err))
			}
		default:
			select {
			case h.inbox <- m:
			default:
				h.log.Debug("inbox full; message dropped", logx.String("action", m.Action))
			}
		}
	}
}

func (h *Host) resolve(m Message) {
	h.mu.Lock()
	ch, ok := h.pending[m.ID]
	delete(h.pending, m.ID)
	h.mu.Unlock()
	if !ok {
		h.log.Debug("send result for unknown id", logx.String("id", m.ID))
		return
	}
	ch <- m
}

func (h *Host) failPending() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.pending {
		close(ch)
		delete(h.pending, id)
	}
}

// Run forwards chat events to out and typing signals to fg until ctx is
// done or the extension disconnects.
func (h *Host) Run(ctx context.Context, out chan<- chat.RawObservation, fg transport.Foreground) error {
	h.start()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.done:
			// Leave what is already buffered unread; the session is ending.
			return h.err
		case m := <-h.inbox:
			switch m.Action {
			case ActionChatEvent:
				obs, ok := m.Observation()
				if !ok {
					continue
				}
				select {
				case out <- obs:
				case <-ctx.Done():
					return ctx.Err()
				}
			case ActionTyping:
				switch m.State {
				case "start":
					fg.InteractionStarted()
				case "end":
					fg.InteractionEnded()
				}
			default:
				h.log.Debug("ignoring message", logx.String("action", m.Action))
			}
		}
	}
}

// Deliver asks the extension to type text into the tab and waits for its
// SEND_RESULT.
func (h *Host) Deliver(ctx context.Context, to chat.Destination, text string) error {
	tab, ok := ParseTab(to)
	if !ok {
		return fmt.Errorf("nativemsg: destination %q is not a tab", to)
	}
	h.start()
	select {
	case <-h.done:
		return transport.ErrDisconnected
	default:
	}

	id := uuid.NewString()
	ch := make(chan Message, 1)
	h.mu.Lock()
	h.pending[id] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
	}()

	if err := h.conn.Write(Message{Action: ActionAutoSend, ID: id, Tab: tab, Message: text}); err != nil {
		return fmt.Errorf("nativemsg: write: %w", err)
	}

	select {
	case <-h.done:
		return transport.ErrDisconnected
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return transport.ErrTimeout
		}
		return ctx.Err()
	case res, ok := <-ch:
		if !ok {
			return transport.ErrDisconnected
		}
		if !res.OK {
			if res.Error == "" {
				res.Error = "rejected"
			}
			return fmt.Errorf("nativemsg: send failed: %s", res.Error)
		}
		return nil
	}
}
