package logview

import (
	"context"
	"fmt"
	"sync"

	"github.com/shihaohou/vllm-model-manager/logger"
	"github.com/shihaohou/vllm-model-manager/model"
	"github.com/shihaohou/vllm-model-manager/requests"
)

type Phase string

const (
	PHASE_CLOSED  Phase = "closed"
	PHASE_LOADING Phase = "loading"
	PHASE_LOADED  Phase = "loaded"
	PHASE_ERROR   Phase = "error"
)

const (
	EMPTY_LOG_TEXT  = "(log is empty)"
	LOAD_FAILED_FMT = "failed to load logs: %s"
)

// LogFetcher reads the tail of a service log. requests.Client satisfies it.
type LogFetcher interface {
	GetLogs(ctx context.Context, key model.ServiceKey, lines int) (requests.LogsResult, error)
}

// Session is the log view of one service. ID changes every time a session is opened.
type Session struct {
	ID          uint64
	ServiceKey  model.ServiceKey
	ServiceName string
	Phase       Phase
	Text        string
}

func (s Session) IsOpen() bool {
	return s.Phase != PHASE_CLOSED
}

// Controller holds at most one log session. A response is applied only if its session is still
// the current one, so a slow answer for a previous service never replaces the visible logs.
type Controller struct {
	fetcher LogFetcher
	lines   int

	rwlock  sync.RWMutex
	session Session
	nextID  uint64
}

func NewController(fetcher LogFetcher) *Controller {
	return &Controller{
		fetcher: fetcher,
		lines:   requests.LOG_LINES,
		session: Session{Phase: PHASE_CLOSED},
	}
}

// Open replaces the current session and fetches the logs. It blocks until the answer is applied
// or discarded and returns the session as it stands afterwards.
func (c *Controller) Open(ctx context.Context, key model.ServiceKey, name string) Session {
	c.rwlock.Lock()
	c.nextID++
	id := c.nextID
	c.session = Session{ID: id, ServiceKey: key, ServiceName: name, Phase: PHASE_LOADING}
	c.rwlock.Unlock()

	result, err := c.fetcher.GetLogs(ctx, key, c.lines)

	c.rwlock.Lock()
	defer c.rwlock.Unlock()
	if c.session.ID != id || c.session.Phase != PHASE_LOADING {
		logger.InfoLogger().Printf("Discarding logs of %s: session %d is no longer open", key, id)
		return c.session
	}

	switch {
	case err != nil:
		logger.ErrorLogger().Printf("Loading logs of %s failed: %v", key, err)
		c.session.Phase = PHASE_ERROR
		c.session.Text = fmt.Sprintf(LOAD_FAILED_FMT, err.Error())
	case !result.Success:
		c.session.Phase = PHASE_ERROR
		c.session.Text = fmt.Sprintf(LOAD_FAILED_FMT, result.Message)
	case result.Logs == "":
		c.session.Phase = PHASE_LOADED
		c.session.Text = EMPTY_LOG_TEXT
	default:
		c.session.Phase = PHASE_LOADED
		c.session.Text = result.Logs
	}
	return c.session
}

// Close ends the session from any phase. A pending response for it is discarded.
func (c *Controller) Close() {
	c.rwlock.Lock()
	defer c.rwlock.Unlock()
	c.session = Session{ID: c.session.ID, Phase: PHASE_CLOSED}
}

func (c *Controller) Session() Session {
	c.rwlock.RLock()
	defer c.rwlock.RUnlock()
	return c.session
}
