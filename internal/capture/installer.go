package capture

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
)

// Attacher starts network observation on browser tabs not yet observed.
type Attacher interface {
	AttachNew(ctx context.Context) (int, error)
}

// Installer hooks the interceptor into every known primitive. Install is safe
// to call repeatedly; each primitive is hooked at most once.
type Installer struct {
	interceptor *Interceptor

	mu        sync.Mutex
	clients   []*http.Client
	attachers []Attacher
}

func NewInstaller(in *Interceptor) *Installer {
	return &Installer{interceptor: in}
}

// AddClient registers a promise-style primitive to be wrapped on Install.
func (i *Installer) AddClient(c *http.Client) {
	if c == nil {
		return
	}
	i.mu.Lock()
	i.clients = append(i.clients, c)
	i.mu.Unlock()
}

// AddAttacher registers an event-driven primitive to be hooked on Install.
func (i *Installer) AddAttacher(a Attacher) {
	if a == nil {
		return
	}
	i.mu.Lock()
	i.attachers = append(i.attachers, a)
	i.mu.Unlock()
}

// Install hooks every registered primitive that is not hooked yet and returns
// how many were newly hooked. Failures are logged and never returned.
func (i *Installer) Install(ctx context.Context) int {
	i.mu.Lock()
	defer i.mu.Unlock()

	hooked := 0
	for _, c := range i.clients {
		if IsWrapped(c.Transport) {
			continue
		}
		c.Transport = WrapTransport(c.Transport, i.interceptor)
		hooked++
	}

	for _, a := range i.attachers {
		n, err := a.AttachNew(ctx)
		if err != nil {
			slog.Warn("Network observer attach failed", "error", err)
		}
		hooked += n
	}

	if hooked > 0 {
		slog.Debug("Interceptor installed", "hooked", hooked)
	}
	return hooked
}
