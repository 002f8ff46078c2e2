// Package runtime provides the process scaffolding shared by ifrau
// commands: a logger, a signal-cancelled context, named components, and
// ordered cleanup. Capabilities such as the message channel are composed in
// as extensions.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gezibash/ifrau/pkg/channel"
	"github.com/gezibash/ifrau/pkg/logging"
)

// Extension is a function that extends the runtime with a capability.
// Extensions are called in order during Build().
type Extension func(*Runtime) error

// Option configures a runtime builder.
type Option func(*Builder) error

// Builder constructs a Runtime with composed capabilities.
type Builder struct {
	name      string
	logLevel  string
	logFormat string
	logWriter io.Writer
	logger    *logging.Logger
	signals   bool

	extensions []Extension
}

// New starts building a runtime for the named command.
func New(name string) *Builder {
	return &Builder{
		name:      name,
		logLevel:  "info",
		logFormat: "text",
		signals:   true,
	}
}

// Compose builds a runtime using functional options.
func Compose(name string, opts ...Option) (*Runtime, error) {
	b := New(name)
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

// WithLogger sets a preconfigured logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Builder) error {
		b.logger = l
		return nil
	}
}

// WithLogConfig sets the logger level and format.
func WithLogConfig(level, format string) Option {
	return func(b *Builder) error {
		b.Logging(level, format)
		return nil
	}
}

// WithExtension adds ext to the builder.
func WithExtension(ext Extension) Option {
	return func(b *Builder) error {
		b.Use(ext)
		return nil
	}
}

// WithoutSignals leaves SIGINT and SIGTERM alone. Used by tests and by
// callers embedding the runtime in a larger process.
func WithoutSignals() Option {
	return func(b *Builder) error {
		b.signals = false
		return nil
	}
}

// Use adds a capability extension to the runtime.
func (b *Builder) Use(ext Extension) *Builder {
	b.extensions = append(b.extensions, ext)
	return b
}

// Logging configures log level and format.
// Levels: debug, info, warn, error. Formats: text, json.
func (b *Builder) Logging(level, format string) *Builder {
	if level != "" {
		b.logLevel = level
	}
	if format != "" {
		b.logFormat = format
	}
	return b
}

// LogWriter sets the output destination for logs. Defaults to os.Stderr.
func (b *Builder) LogWriter(w io.Writer) *Builder {
	b.logWriter = w
	return b
}

// Build constructs the runtime and applies extensions in order. If an
// extension fails, everything registered so far is closed.
func (b *Builder) Build() (*Runtime, error) {
	if b.name == "" {
		return nil, fmt.Errorf("name is required")
	}

	log := b.logger
	if log == nil {
		w := b.logWriter
		if w == nil {
			w = os.Stderr
		}
		log = logging.SetupWriter(b.logLevel, b.logFormat, w)
	}
	log = log.WithComponent(b.name)

	ctx, cancel := context.WithCancel(context.Background())
	rt := &Runtime{
		name:       b.name,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		components: make(map[string]any),
	}

	if b.signals {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			select {
			case <-sigCh:
			case <-ctx.Done():
				return
			}
			log.Info("shutting down...")
			cancel()
			if _, ok := <-sigCh; ok {
				log.Warn("forced shutdown")
				os.Exit(1)
			}
		}()
		rt.OnClose(func() error {
			signal.Stop(sigCh)
			return nil
		})
	}

	for _, ext := range b.extensions {
		if err := ext(rt); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}

	return rt, nil
}

// Runtime is the foundation for ifrau commands.
type Runtime struct {
	name   string
	log    *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	components map[string]any
	closers    []func() error
	closed     bool
}

// Name returns the command name.
func (r *Runtime) Name() string { return r.name }

// Log returns the logger.
func (r *Runtime) Log() *logging.Logger { return r.log }

// Context returns the lifecycle context (cancelled on shutdown).
func (r *Runtime) Context() context.Context { return r.ctx }

// Shutdown triggers graceful shutdown.
func (r *Runtime) Shutdown() { r.cancel() }

// Wait blocks until shutdown.
func (r *Runtime) Wait() { <-r.ctx.Done() }

// Set stores a component for later retrieval by extensions' accessors.
func (r *Runtime) Set(key string, component any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[key] = component
}

// Get retrieves a component by key.
func (r *Runtime) Get(key string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.components[key]
}

// OnClose registers a cleanup function. Cleanups run in reverse order.
func (r *Runtime) OnClose(fn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers = append(r.closers, fn)
}

// Close cancels the context and runs cleanups once.
func (r *Runtime) Close() error {
	r.cancel()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const channelKey = "channel"

// Channel opens a channel on the named backend and closes it with the
// runtime.
func Channel(backend string, config map[string]string) Extension {
	return func(r *Runtime) error {
		ch, err := channel.New(r.ctx, backend, config)
		if err != nil {
			return err
		}
		r.log.Debug("channel ready", "backend", backend, "counterpart", ch.Counterpart())
		r.Set(channelKey, ch)
		r.OnClose(ch.Close)
		return nil
	}
}

// UseChannel installs an already constructed channel.
func UseChannel(ch channel.Channel) Extension {
	return func(r *Runtime) error {
		if ch == nil {
			return fmt.Errorf("nil channel")
		}
		r.Set(channelKey, ch)
		r.OnClose(ch.Close)
		return nil
	}
}

// ChannelFrom returns the channel installed by Channel or UseChannel, or nil.
func ChannelFrom(r *Runtime) channel.Channel {
	ch, _ := r.Get(channelKey).(channel.Channel)
	return ch
}
