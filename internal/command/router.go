package command

import (
	"context"
	"sync"

	"github.com/hammamikhairi/tcmvoice/internal/domain"
	"github.com/hammamikhairi/tcmvoice/internal/logger"
)

// Handler acts on a command. Handle reports whether the command was
// accepted; a declined command is offered to the next candidate or handler.
type Handler interface {
	Handle(ctx context.Context, cmd domain.Command) bool
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cmd domain.Command) bool

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, cmd domain.Command) bool { return f(ctx, cmd) }

// Navigator switches the current page.
type Navigator interface {
	Navigate(ctx context.Context, page domain.PageID)
}

// Router maps pages to handlers. Safe for concurrent use.
type Router struct {
	log      *logger.Logger
	fallback Handler

	mu    sync.RWMutex
	pages map[domain.PageID]Handler
}

// NewRouter creates a router whose generic handler, used on pages without
// a registered one, navigates through nav.
func NewRouter(nav Navigator, log *logger.Logger) *Router {
	return &Router{
		log:      log,
		fallback: NavigationHandler(nav),
		pages:    make(map[domain.PageID]Handler),
	}
}

// Register installs the handler for a page, replacing any previous one.
func (r *Router) Register(page domain.PageID, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages[page] = h
}

// Route offers the candidates, in order, to the page's handler. A page with
// a handler owns its commands: what it declines is not handled. Pages
// without one get the generic navigation handler. It returns the command
// that was accepted.
func (r *Router) Route(ctx context.Context, page domain.PageID, cmds []domain.Command) (domain.Command, bool) {
	r.mu.RLock()
	h, ok := r.pages[page]
	r.mu.RUnlock()

	if !ok {
		h = r.fallback
	}
	for _, cmd := range cmds {
		if h.Handle(ctx, cmd) {
			r.log.Debug("page %s handled %s %q", page, cmd.Kind, cmd.Arg)
			return cmd, true
		}
	}

	r.log.Debug("no handler for %d candidates on page %s", len(cmds), page)
	return domain.Command{}, false
}

// NavigationHandler accepts Navigate commands only.
func NavigationHandler(nav Navigator) Handler {
	return HandlerFunc(func(ctx context.Context, cmd domain.Command) bool {
		if cmd.Kind != domain.CommandNavigate || nav == nil {
			return false
		}
		nav.Navigate(ctx, domain.PageID(cmd.Arg))
		return true
	})
}
