package requests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shihaohou/vllm-model-manager/model"
)

// LOG_LINES is the number of trailing log lines requested for the log viewer.
const LOG_LINES = 200

// CommandResult is the body of a start or stop answer.
type CommandResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// LogsResult is the body of a logs answer.
type LogsResult struct {
	Success bool   `json:"success"`
	Logs    string `json:"logs,omitempty"`
	Message string `json:"message,omitempty"`
}

// ServiceConfigResult is the body of a service config answer.
type ServiceConfigResult struct {
	Success   bool                `json:"success"`
	Message   string              `json:"message,omitempty"`
	Config    model.DefaultParams `json:"config"`
	ModelPath string              `json:"model_path,omitempty"`
	ExtraArgs string              `json:"extra_args,omitempty"`
}

// TransportError is a request that failed on the network or answered with a non-2xx status
// and no usable body. StatusCode is 0 when no response was received.
type TransportError struct {
	Method     string
	Path       string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status code %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client talks to the model manager backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL is the backend origin the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) GetServices(ctx context.Context) (model.ServicesMap, error) {
	var services model.ServicesMap
	err := c.getJSON(ctx, "/api/services", &services)
	return services, err
}

func (c *Client) GetGPUs(ctx context.Context) ([]model.GPUSnapshot, error) {
	gpus := make([]model.GPUSnapshot, 0)
	err := c.getJSON(ctx, "/api/gpu", &gpus)
	return gpus, err
}

func (c *Client) GetSystem(ctx context.Context) (model.SystemSnapshot, error) {
	var system model.SystemSnapshot
	err := c.getJSON(ctx, "/api/system", &system)
	return system, err
}

func (c *Client) StartService(ctx context.Context, key model.ServiceKey, config model.LaunchConfig) (CommandResult, error) {
	body, err := json.Marshal(config)
	if err != nil {
		return CommandResult{}, errors.Wrap(err, "encoding launch config")
	}
	var result CommandResult
	err = c.command(ctx, http.MethodPost, servicePath(key, "start"), bytes.NewReader(body), &result)
	return result, err
}

func (c *Client) StopService(ctx context.Context, key model.ServiceKey) (CommandResult, error) {
	var result CommandResult
	err := c.command(ctx, http.MethodPost, servicePath(key, "stop"), nil, &result)
	return result, err
}

func (c *Client) GetLogs(ctx context.Context, key model.ServiceKey, lines int) (LogsResult, error) {
	var result LogsResult
	path := fmt.Sprintf("%s?lines=%d", servicePath(key, "logs"), lines)
	err := c.command(ctx, http.MethodGet, path, nil, &result)
	return result, err
}

func (c *Client) GetServiceConfig(ctx context.Context, key model.ServiceKey) (ServiceConfigResult, error) {
	var result ServiceConfigResult
	err := c.command(ctx, http.MethodGet, servicePath(key, "config"), nil, &result)
	return result, err
}

// SaveServiceConfig stores config as the backend defaults of a service.
func (c *Client) SaveServiceConfig(ctx context.Context, key model.ServiceKey, config model.LaunchConfig) (CommandResult, error) {
	body, err := json.Marshal(struct {
		Params model.LaunchConfig `json:"params"`
	}{Params: config})
	if err != nil {
		return CommandResult{}, errors.Wrap(err, "encoding service config")
	}
	var result CommandResult
	err = c.command(ctx, http.MethodPost, servicePath(key, "config"), bytes.NewReader(body), &result)
	return result, err
}

func servicePath(key model.ServiceKey, action string) string {
	return fmt.Sprintf("/api/service/%s/%s", url.PathEscape(string(key)), action)
}

// getJSON reads a polled resource. Anything but a 2xx answer is a TransportError.
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	response, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return &TransportError{Method: http.MethodGet, Path: path, StatusCode: response.StatusCode}
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decoding %s", path)
	}
	return nil
}

// command decodes the {success, message} envelope whatever the status code, so that a backend
// rejection answered with 400 or 404 still surfaces its message. A non-2xx answer without a
// decodable body is a TransportError.
func (c *Client) command(ctx context.Context, method string, path string, body io.Reader, out interface{}) error {
	response, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	responseBytes, err := io.ReadAll(response.Body)
	if err != nil {
		return &TransportError{Method: method, Path: path, Err: err}
	}
	decodeErr := json.Unmarshal(responseBytes, out)
	if response.StatusCode < 200 || response.StatusCode > 299 {
		if decodeErr != nil {
			return &TransportError{Method: method, Path: path, StatusCode: response.StatusCode}
		}
		return nil
	}
	if decodeErr != nil {
		return errors.Wrapf(decodeErr, "decoding %s", path)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method string, path string, body io.Reader) (*http.Response, error) {
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}
	return response, nil
}
