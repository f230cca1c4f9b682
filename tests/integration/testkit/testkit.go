// Package testkit starts relic-search servers for integration tests.
package testkit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/sha1n/relic-search/internal/app"
	"github.com/sha1n/relic-search/internal/config"
	"github.com/spf13/pflag"
)

// Property names published by ServerService.
const (
	PropBaseURL = "relic_search.base_url"
	PropDataDir = "relic_search.data_dir"
)

// Service is a component an integration test starts before it runs and
// stops when it is done. Start returns properties other services and the
// test can read back from the environment.
type Service interface {
	Start(ctx context.Context) (map[string]any, error)
	Stop() error
	Name() string
}

// Env starts services in order and stops them in reverse order.
type Env struct {
	services []Service
	started  []Service
	props    map[string]any
}

// NewEnv creates an environment over the given services.
func NewEnv(services ...Service) *Env {
	return &Env{
		services: services,
		props:    make(map[string]any),
	}
}

// Start starts every service and merges their properties. When a service
// fails the ones already started are stopped.
func (e *Env) Start(ctx context.Context) (map[string]any, error) {
	for _, s := range e.services {
		props, err := s.Start(ctx)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to start %s: %w", s.Name(), err), e.Stop())
		}
		e.started = append(e.started, s)
		for k, v := range props {
			e.props[k] = v
		}
	}
	return e.props, nil
}

// Stop stops the started services in reverse order and joins their errors.
func (e *Env) Stop() error {
	var errs []error
	for i := len(e.started) - 1; i >= 0; i-- {
		if err := e.started[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", e.started[i].Name(), err))
		}
	}
	e.started = nil
	return errors.Join(errs...)
}

// Property returns a property published by a started service.
func (e *Env) Property(name string) (any, bool) {
	v, ok := e.props[name]
	return v, ok
}

// ServerService runs the relic-search HTTP server over a data directory.
// Fixtures, when set, are imported before the server opens the store.
type ServerService struct {
	Settings *config.Settings
	Fixtures string

	srv     *http.Server
	cleanup func()
	done    chan error
}

// Name implements Service.
func (s *ServerService) Name() string {
	return app.ServerName
}

// Start implements Service.
func (s *ServerService) Start(ctx context.Context) (map[string]any, error) {
	if err := config.ValidateSettings(s.Settings); err != nil {
		return nil, err
	}

	if s.Fixtures != "" {
		if _, err := app.ImportFixtures(ctx, &s.Settings.Search, s.Fixtures); err != nil {
			return nil, fmt.Errorf("failed to import fixtures: %w", err)
		}
	}

	server, cleanup, err := app.CreateMCPServer(ctx, s.Settings, "test")
	if err != nil {
		return nil, err
	}

	srv, err := app.NewSSEServer(server, s.Settings)
	if err != nil {
		cleanup()
		return nil, err
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		cleanup()
		return nil, err
	}

	s.srv = srv
	s.cleanup = cleanup
	s.done = make(chan error, 1)
	go func() {
		s.done <- srv.Serve(ln)
	}()

	baseURL := "http://" + ln.Addr().String()
	if err := waitHealthy(ctx, baseURL+"/health"); err != nil {
		_ = s.Stop()
		return nil, err
	}

	return map[string]any{
		PropBaseURL: baseURL,
		PropDataDir: s.Settings.Search.DataDir,
	}, nil
}

// Stop implements Service. It shuts the HTTP server down, then closes the
// engine and store so the data directory lock is released.
func (s *ServerService) Stop() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.srv.Shutdown(ctx)
	if serveErr := <-s.done; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		err = errors.Join(err, serveErr)
	}
	s.cleanup()
	s.srv = nil
	return err
}

func waitHealthy(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("server not healthy at %s: %w", url, ctx.Err())
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// GetFreePort returns a free port from the kernel
func GetFreePort() (int, error) {
	return getFreePortWithAddr("localhost:0")
}

// MustGetFreePort returns a free port or fails the test
func MustGetFreePort(t testing.TB) int {
	t.Helper()
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}
	return port
}

func getFreePortWithAddr(addrStr string) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", addrStr)
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// FlagOptions configures NewTestFlags
type FlagOptions struct {
	Port     int    // Uses free port if 0
	AuthType string // Defaults to "none"
	APIKeys  string // Comma-separated, used with AuthType "apikey"
	DataDir  string // Uses t.TempDir() if empty
	Analyzer string // Defaults to "simple"
}

// NewTestFlags creates the flag set the root command would parse for an SSE
// server on localhost.
func NewTestFlags(t testing.TB, opts *FlagOptions) *pflag.FlagSet {
	t.Helper()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	app.RegisterFlags(flags)
	app.RegisterSearchFlags(flags)

	o := FlagOptions{AuthType: config.AuthTypeNone, Analyzer: config.AnalyzerSimple}
	if opts != nil {
		o.Port = opts.Port
		o.APIKeys = opts.APIKeys
		o.DataDir = opts.DataDir
		if opts.AuthType != "" {
			o.AuthType = opts.AuthType
		}
		if opts.Analyzer != "" {
			o.Analyzer = opts.Analyzer
		}
	}
	if o.Port == 0 {
		o.Port = MustGetFreePort(t)
	}
	if o.DataDir == "" {
		o.DataDir = t.TempDir()
	}

	_ = flags.Set("transport", "sse")
	_ = flags.Set("host", "localhost")
	_ = flags.Set("port", fmt.Sprintf("%d", o.Port))
	_ = flags.Set("auth-type", o.AuthType)
	if o.APIKeys != "" {
		_ = flags.Set("auth-api-keys", o.APIKeys)
	}
	_ = flags.Set("data-dir", o.DataDir)
	_ = flags.Set("analyzer", o.Analyzer)
	_ = flags.Set("lock-timeout", "1s")

	return flags
}

// NewServerService loads settings the way the root command does and returns
// a server service over them.
func NewServerService(t testing.TB, opts *FlagOptions, fixtures string) *ServerService {
	t.Helper()

	settings, err := config.LoadSettingsWithFlags(NewTestFlags(t, opts))
	if err != nil {
		t.Fatalf("Failed to load settings: %v", err)
	}
	return &ServerService{Settings: settings, Fixtures: fixtures}
}
