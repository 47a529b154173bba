package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shihaohou/vllm-model-manager/jobs"
	"github.com/shihaohou/vllm-model-manager/launch"
	"github.com/shihaohou/vllm-model-manager/lifecycle"
	"github.com/shihaohou/vllm-model-manager/logger"
	"github.com/shihaohou/vllm-model-manager/logview"
	"github.com/shihaohou/vllm-model-manager/model"
	"github.com/shihaohou/vllm-model-manager/notify"
	"github.com/shihaohou/vllm-model-manager/requests"
)

// ErrConnectivity is matched by every ConnectivityError.
var ErrConnectivity = errors.New("cannot connect to the backend API server")

// ErrUnknownService is returned for a key absent from the last services snapshot.
var ErrUnknownService = errors.New("unknown service")

// ConnectivityError reports the resources that failed without ever answering.
type ConnectivityError struct {
	Address   string
	Resources []string
	Err       error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%v at %s (%s): %v", ErrConnectivity, e.Address, strings.Join(e.Resources, ", "), e.Err)
}

func (e *ConnectivityError) Is(target error) bool {
	return target == ErrConnectivity
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// Backend is the part of the HTTP client the coordinator drives. requests.Client satisfies it.
type Backend interface {
	lifecycle.Commander
	logview.LogFetcher
	GetServices(ctx context.Context) (model.ServicesMap, error)
	GetGPUs(ctx context.Context) ([]model.GPUSnapshot, error)
	GetSystem(ctx context.Context) (model.SystemSnapshot, error)
}

// Sources are the fetch functions behind the three pollers.
type Sources struct {
	Services jobs.FetchFunc[model.ServicesMap]
	GPUs     jobs.FetchFunc[[]model.GPUSnapshot]
	System   jobs.FetchFunc[model.SystemSnapshot]
}

// BackendSources reads every resource from the backend.
func BackendSources(backend Backend) Sources {
	return Sources{
		Services: backend.GetServices,
		GPUs:     backend.GetGPUs,
		System:   backend.GetSystem,
	}
}

type Options struct {
	// BackendAddress is shown in the connectivity error.
	BackendAddress  string
	RefreshInterval time.Duration
	// Sources overrides the backend reads; nil fields fall back to the backend.
	Sources  Sources
	Notifier notify.Notifier
	// NotificationLimit caps the notifications kept for the view.
	NotificationLimit int
}

// Coordinator is the root of the dashboard state. It owns the pollers and the controllers and
// builds the view models from their state.
type Coordinator struct {
	address  string
	interval time.Duration

	services *jobs.ResourcePoller[model.ServicesMap]
	gpus     *jobs.ResourcePoller[[]model.GPUSnapshot]
	system   *jobs.ResourcePoller[model.SystemSnapshot]

	history       *model.MetricHistory
	lifecycle     *lifecycle.Controller
	logs          *logview.Controller
	notifications *notify.Buffer

	rwlock  sync.RWMutex
	running bool
	changes []func()
}

func NewCoordinator(backend Backend, options Options) *Coordinator {
	sources := BackendSources(backend)
	if options.Sources.Services != nil {
		sources.Services = options.Sources.Services
	}
	if options.Sources.GPUs != nil {
		sources.GPUs = options.Sources.GPUs
	}
	if options.Sources.System != nil {
		sources.System = options.Sources.System
	}

	notifications := notify.NewBuffer(options.NotificationLimit)
	notifier := notify.Notifier(notify.Multi{notify.LogNotifier{}, notifications})
	if options.Notifier != nil {
		notifier = notify.Multi{notify.LogNotifier{}, notifications, options.Notifier}
	}

	c := &Coordinator{
		address:       options.BackendAddress,
		interval:      options.RefreshInterval,
		services:      jobs.NewResourcePoller("services", options.RefreshInterval, sources.Services),
		gpus:          jobs.NewResourcePoller("gpu", options.RefreshInterval, sources.GPUs),
		system:        jobs.NewResourcePoller("system", options.RefreshInterval, sources.System),
		history:       model.NewMetricHistory(),
		lifecycle:     lifecycle.NewController(backend, notifier),
		logs:          logview.NewController(backend),
		notifications: notifications,
	}

	c.gpus.OnUpdate(func(state jobs.PollState[[]model.GPUSnapshot]) {
		if state.Err == nil {
			c.history.RecordSnapshot(state.Data, state.LastSuccess)
		}
		c.changed()
	})
	c.services.OnUpdate(func(jobs.PollState[model.ServicesMap]) { c.changed() })
	c.system.OnUpdate(func(jobs.PollState[model.SystemSnapshot]) { c.changed() })
	return c
}

// OnChange registers a callback run whenever a poll is applied or a command completes.
func (c *Coordinator) OnChange(callback func()) {
	c.rwlock.Lock()
	defer c.rwlock.Unlock()
	c.changes = append(c.changes, callback)
}

func (c *Coordinator) changed() {
	c.rwlock.RLock()
	callbacks := make([]func(), len(c.changes))
	copy(callbacks, c.changes)
	c.rwlock.RUnlock()
	for _, callback := range callbacks {
		callback()
	}
}

// Start launches the three pollers. Each fires immediately and then once per refresh interval.
func (c *Coordinator) Start(ctx context.Context) {
	c.rwlock.Lock()
	if c.running {
		c.rwlock.Unlock()
		return
	}
	c.running = true
	c.rwlock.Unlock()

	logger.InfoLogger().Printf("Dashboard started, backend %s, refresh every %v", c.address, c.interval)
	c.services.Start(ctx)
	c.gpus.Start(ctx)
	c.system.Start(ctx)
}

// Stop cancels the pollers and waits for their in-flight requests.
func (c *Coordinator) Stop() {
	c.rwlock.Lock()
	c.running = false
	c.rwlock.Unlock()

	c.services.Stop()
	c.gpus.Stop()
	c.system.Stop()
	logger.InfoLogger().Printf("Dashboard stopped")
}

// Refresh polls every resource once, concurrently, and waits for the answers.
func (c *Coordinator) Refresh(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); c.services.Tick(ctx) }()
	go func() { defer wg.Done(); c.gpus.Tick(ctx) }()
	go func() { defer wg.Done(); c.system.Tick(ctx) }()
	wg.Wait()
}

func (c *Coordinator) BackendAddress() string {
	return c.address
}

func (c *Coordinator) RefreshInterval() time.Duration {
	return c.interval
}

func (c *Coordinator) Service(key model.ServiceKey) (model.ServiceSnapshot, bool) {
	state := c.services.State()
	if !state.HasData {
		return model.ServiceSnapshot{}, false
	}
	return state.Data.Get(key)
}

// PrepareStart builds the launch dialog content for a service from the current snapshots.
func (c *Coordinator) PrepareStart(key model.ServiceKey) (model.LaunchConfig, error) {
	service, ok := c.Service(key)
	if !ok {
		return model.LaunchConfig{}, errors.Wrapf(ErrUnknownService, "%s", key)
	}
	return launch.BuildInitial(service, c.gpus.State().Data), nil
}

func (c *Coordinator) StartService(ctx context.Context, key model.ServiceKey, config model.LaunchConfig) (lifecycle.Outcome, error) {
	defer c.changed()
	return c.lifecycle.Start(ctx, key, config)
}

func (c *Coordinator) StopService(ctx context.Context, key model.ServiceKey) (lifecycle.Outcome, error) {
	defer c.changed()
	return c.lifecycle.Stop(ctx, key)
}

// OpenLogs shows the logs of a service, named after the last snapshot when the key is known.
func (c *Coordinator) OpenLogs(ctx context.Context, key model.ServiceKey) logview.Session {
	name := string(key)
	if service, ok := c.Service(key); ok && service.Name != "" {
		name = service.Name
	}
	defer c.changed()
	return c.logs.Open(ctx, key, name)
}

func (c *Coordinator) CloseLogs() {
	c.logs.Close()
	c.changed()
}

func (c *Coordinator) DismissNotification(id string) bool {
	return c.notifications.Dismiss(id)
}

func (c *Coordinator) Lifecycle() *lifecycle.Controller {
	return c.lifecycle
}

// ExpireNotifications drops the notifications older than maxAge.
func (c *Coordinator) ExpireNotifications(maxAge time.Duration) {
	c.notifications.DismissOlderThan(time.Now().Add(-maxAge))
}

// ConnectivityError is non-nil while some poller has failed without a single success. It clears
// per resource: a resource that has never answered stays listed even after another one recovers,
// so a backend serving /api/services but failing /api/gpu is still reported.
func (c *Coordinator) ConnectivityError() error {
	var resources []string
	var cause error
	check := func(name string, neverConnected bool, err error) {
		if neverConnected {
			resources = append(resources, name)
			if cause == nil {
				cause = err
			}
		}
	}
	services := c.services.State()
	gpus := c.gpus.State()
	system := c.system.State()
	check(c.services.Name(), services.NeverConnected(), services.Err)
	check(c.gpus.Name(), gpus.NeverConnected(), gpus.Err)
	check(c.system.Name(), system.NeverConnected(), system.Err)

	if len(resources) == 0 {
		return nil
	}
	sort.Strings(resources)
	return &ConnectivityError{Address: c.address, Resources: resources, Err: cause}
}

// compile-time check
var _ Backend = (*requests.Client)(nil)
