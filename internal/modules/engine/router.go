package engine

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Router is the single entry point from sender to engine. It owns the
// registered engine versions, the sender assignments, and the default
// version new senders fall through to. Cutover to a new version is an
// explicit SetDefault or Assign call, so two versions can run side by side
// while a rollout is verified.
type Router struct {
	mu             sync.RWMutex
	engines        map[string]*Engine
	senders        map[string]string
	defaultVersion string
	log            zerolog.Logger
}

// NewRouter creates an empty router.
func NewRouter(log zerolog.Logger) *Router {
	return &Router{
		engines: make(map[string]*Engine),
		senders: make(map[string]string),
		log:     log.With().Str("component", "engine_router").Logger(),
	}
}

// Register adds an engine under its version key. The first registered
// version becomes the default until an explicit cutover.
func (r *Router) Register(e *Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()

	version := e.Version()
	r.engines[version] = e
	if r.defaultVersion == "" {
		r.defaultVersion = version
	}
	r.log.Info().Str("version", version).Msg("Engine version registered")
}

// SetDefault cuts the default route over to a registered version.
func (r *Router) SetDefault(version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.engines[version]; !ok {
		return fmt.Errorf("engine version %q is not registered", version)
	}
	r.defaultVersion = version
	r.log.Info().Str("version", version).Msg("Default engine version cut over")
	return nil
}

// Assign pins a sender to a registered engine version.
func (r *Router) Assign(sender, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.engines[version]; !ok {
		return fmt.Errorf("engine version %q is not registered", version)
	}
	r.senders[sender] = version
	r.log.Info().Str("sender", sender).Str("version", version).Msg("Sender assigned to engine version")
	return nil
}

// Route returns the engine for a sender: its pinned version if assigned,
// the default otherwise.
func (r *Router) Route(sender string) (*Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	version, ok := r.senders[sender]
	if !ok {
		version = r.defaultVersion
	}
	if version == "" {
		return nil, fmt.Errorf("no engine registered for sender %q", sender)
	}

	e, ok := r.engines[version]
	if !ok {
		return nil, fmt.Errorf("engine version %q assigned to sender %q is not registered", version, sender)
	}
	return e, nil
}

// Versions lists the registered engine versions.
func (r *Router) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := make([]string, 0, len(r.engines))
	for v := range r.engines {
		versions = append(versions, v)
	}
	return versions
}
