package port

import (
	"context"
	"fmt"
	"regexp"
	"slices"

	ifrauerrors "github.com/gezibash/ifrau/pkg/errors"
)

var serviceNamePattern = regexp.MustCompile(`^[a-zA-Z]+[a-zA-Z\-]*$`)

// ServiceKey returns the directory request key of a service.
func ServiceKey(name, version string) string {
	return "service:" + name + ":" + version
}

// MethodKey returns the request key of a service method.
func MethodKey(name, version, method string) string {
	return ServiceKey(name, version) + ":" + method
}

// RegisterService exposes methods under name and version. Each method is
// registered as its own request handler, and a directory handler answers
// with the sorted method names. It fails on an invalid name, on any key
// that is already registered, or once the port is connected; on failure
// nothing is registered.
func (p *Port) RegisterService(name, version string, methods map[string]Handler) (*Port, error) {
	prefix := ServiceKey(name, version)
	if !serviceNamePattern.MatchString(name) {
		return p, registrationError("registerService", name, ifrauerrors.ErrInvalidInput,
			"service name must match "+serviceNamePattern.String())
	}

	names := make([]string, 0, len(methods))
	for m, h := range methods {
		if h != nil {
			names = append(names, m)
		}
	}
	slices.Sort(names)

	p.mu.Lock()
	if p.connected {
		p.mu.Unlock()
		return p, lifecycleError("registerService", prefix, ifrauerrors.ErrAlreadyConnected)
	}
	keys := make([]string, 0, len(names)+1)
	for _, m := range names {
		keys = append(keys, prefix+":"+m)
	}
	keys = append(keys, prefix)
	for _, k := range keys {
		if _, dup := p.requestHandlers[k]; dup {
			p.mu.Unlock()
			return p, registrationError("registerService", k, ifrauerrors.ErrAlreadyExists, "")
		}
	}

	var jobs []dispatchJob
	for i, m := range names {
		p.requestHandlers[keys[i]] = methods[m]
		jobs = append(jobs, p.flushLocked(keys[i])...)
	}
	p.requestHandlers[prefix] = Value(names)
	jobs = append(jobs, p.flushLocked(prefix)...)
	p.mu.Unlock()

	p.trace(context.Background(), "registered service", "service", prefix, "methods", names)
	p.run(jobs)
	return p, nil
}

// GetService asks the counterpart for a service's method directory and
// resolves to a proxy over it. Like Request it requires a connected port.
func (p *Port) GetService(ctx context.Context, name, version string) (*Future[*Service], error) {
	prefix := ServiceKey(name, version)
	if !p.IsConnected() {
		return nil, lifecycleError("getService", prefix, ifrauerrors.ErrNotConnected)
	}
	dir, err := p.requestRaw(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return Then(dir, func(r Result) (*Service, error) {
		var methods []string
		if err := r.Decode(&methods); err != nil {
			return nil, fmt.Errorf("service %s: directory: %w", prefix, err)
		}
		return &Service{port: p, name: name, version: version, methods: methods}, nil
	}), nil
}

// Service is a proxy for a remote service. It can only invoke the methods
// its directory listed.
type Service struct {
	port    *Port
	name    string
	version string
	methods []string
}

// Name returns the service name.
func (s *Service) Name() string { return s.name }

// Version returns the service version.
func (s *Service) Version() string { return s.version }

// Methods returns the method names from the directory.
func (s *Service) Methods() []string { return slices.Clone(s.methods) }

// Has reports whether the directory listed method.
func (s *Service) Has(method string) bool { return slices.Contains(s.methods, method) }

// Invoke calls method and returns a future for its response.
func (s *Service) Invoke(ctx context.Context, method string, args ...any) (*Future[Result], error) {
	if !s.Has(method) {
		return nil, fmt.Errorf("%w: service %s has no method %q",
			ifrauerrors.ErrNotFound, ServiceKey(s.name, s.version), method)
	}
	return s.port.requestRaw(ctx, MethodKey(s.name, s.version, method), args...)
}

// Call invokes method and waits for its response.
func (s *Service) Call(ctx context.Context, method string, args ...any) (Result, error) {
	fut, err := s.Invoke(ctx, method, args...)
	if err != nil {
		return Result{}, err
	}
	return fut.Await(ctx)
}
