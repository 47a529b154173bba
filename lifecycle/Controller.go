package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shihaohou/vllm-model-manager/launch"
	"github.com/shihaohou/vllm-model-manager/logger"
	"github.com/shihaohou/vllm-model-manager/model"
	"github.com/shihaohou/vllm-model-manager/notify"
	"github.com/shihaohou/vllm-model-manager/requests"
)

// ErrBusy is returned when a command is issued for a service that already has one in flight.
var ErrBusy = errors.New("a command is already in progress for this service")

// Commander issues the start and stop commands. requests.Client satisfies it.
type Commander interface {
	StartService(ctx context.Context, key model.ServiceKey, config model.LaunchConfig) (requests.CommandResult, error)
	StopService(ctx context.Context, key model.ServiceKey) (requests.CommandResult, error)
}

// Outcome summarizes one command for the caller.
type Outcome struct {
	Success bool
	Message string
}

// Controller serializes commands per service key. Commands for different keys run concurrently.
type Controller struct {
	commander Commander
	notifier  notify.Notifier

	rwlock sync.RWMutex
	busy   map[model.ServiceKey]bool
}

func NewController(commander Commander, notifier notify.Notifier) *Controller {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Controller{
		commander: commander,
		notifier:  notifier,
		busy:      make(map[model.ServiceKey]bool),
	}
}

// Start validates config, then sends the start command. The local snapshot is never touched:
// the next services poll reflects the new state.
func (c *Controller) Start(ctx context.Context, key model.ServiceKey, config model.LaunchConfig) (Outcome, error) {
	if err := launch.Validate(config); err != nil {
		c.notifier.Notify(notify.Error(err.Error()))
		return Outcome{Message: err.Error()}, err
	}
	if !c.acquire(key) {
		return Outcome{}, ErrBusy
	}

	logger.InfoLogger().Printf("Starting service %s on GPUs %v port %d", key, config.GPUs, config.Port)
	outcome := c.send(key, START_SUCCEEDED, START_FAILED, func() (requests.CommandResult, error) {
		return c.commander.StartService(ctx, key, config)
	})
	return outcome, nil
}

func (c *Controller) Stop(ctx context.Context, key model.ServiceKey) (Outcome, error) {
	if !c.acquire(key) {
		return Outcome{}, ErrBusy
	}

	logger.InfoLogger().Printf("Stopping service %s", key)
	outcome := c.send(key, STOP_SUCCEEDED, STOP_FAILED, func() (requests.CommandResult, error) {
		return c.commander.StopService(ctx, key)
	})
	return outcome, nil
}

// send runs an acquired command. The key is released as soon as the backend has answered, before
// the notifiers run, so a slow sink never keeps the service busy.
func (c *Controller) send(key model.ServiceKey, succeeded string, failed string, command func() (requests.CommandResult, error)) Outcome {
	var result requests.CommandResult
	var err error
	func() {
		defer c.release(key)
		result, err = command()
	}()

	outcome := outcomeOf(key, succeeded, failed, result, err)
	if outcome.Success {
		c.notifier.Notify(notify.Success(outcome.Message))
	} else {
		c.notifier.Notify(notify.Error(outcome.Message))
	}
	return outcome
}

func outcomeOf(key model.ServiceKey, succeeded string, failed string, result requests.CommandResult, err error) Outcome {
	var outcome Outcome
	switch {
	case err != nil:
		logger.ErrorLogger().Printf("Command for service %s failed: %v", key, err)
		outcome = Outcome{Message: fmt.Sprintf(failed, err.Error())}
	case !result.Success:
		logger.ErrorLogger().Printf("Command for service %s rejected: %s", key, result.Message)
		outcome = Outcome{Message: fmt.Sprintf(failed, rejectionMessage(result))}
	default:
		outcome = Outcome{Success: true, Message: succeeded}
	}
	return outcome
}

func rejectionMessage(result requests.CommandResult) string {
	if result.Message != "" {
		return result.Message
	}
	return result.Error
}

func (c *Controller) acquire(key model.ServiceKey) bool {
	c.rwlock.Lock()
	defer c.rwlock.Unlock()
	if c.busy[key] {
		return false
	}
	c.busy[key] = true
	return true
}

func (c *Controller) release(key model.ServiceKey) {
	c.rwlock.Lock()
	defer c.rwlock.Unlock()
	delete(c.busy, key)
}

func (c *Controller) IsBusy(key model.ServiceKey) bool {
	c.rwlock.RLock()
	defer c.rwlock.RUnlock()
	return c.busy[key]
}

func (c *Controller) State(key model.ServiceKey) model.LifecycleState {
	return model.LifecycleState{Busy: c.IsBusy(key)}
}

// BusyKeys lists the services with a command in flight, sorted.
func (c *Controller) BusyKeys() []model.ServiceKey {
	c.rwlock.RLock()
	defer c.rwlock.RUnlock()
	keys := make([]model.ServiceKey, 0, len(c.busy))
	for key := range c.busy {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (c *Controller) CanStart(key model.ServiceKey, service model.ServiceSnapshot) bool {
	return !service.IsRunning() && !c.IsBusy(key)
}

func (c *Controller) CanStop(key model.ServiceKey, service model.ServiceSnapshot) bool {
	return service.IsRunning() && !c.IsBusy(key)
}
