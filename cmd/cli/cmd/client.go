package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"docflow/pkg/api"
)

// Client handles API calls to the docflow controller.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new client with the given base URL and token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			// Task execution runs inline on the controller.
			Timeout: 5 * time.Minute,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// do sends a request and decodes a 2xx response into out, which may be nil.
func (c *Client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorMessage extracts the error field of an api.ErrorResponse, falling back to the raw body.
func errorMessage(body []byte) string {
	var e api.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		if e.Details != "" {
			return e.Error + " (" + e.Details + ")"
		}
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

// ListTasks sends GET /tasks.
func (c *Client) ListTasks() ([]api.TaskResponse, error) {
	var resp api.ListTasksResponse
	if err := c.do(http.MethodGet, "/tasks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// ExecuteTask runs one task now.
func (c *Client) ExecuteTask(taskID string) (*api.ExecutionResponse, error) {
	var resp api.ExecutionResponse
	req := api.TaskActionRequest{Action: api.TaskActionExecute, TaskID: taskID}
	if err := c.do(http.MethodPost, "/tasks", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProcessDue runs every due task.
func (c *Client) ProcessDue() (*api.ProcessResponse, error) {
	var resp api.ProcessResponse
	if err := c.do(http.MethodPost, "/tasks", api.TaskActionRequest{Action: api.TaskActionProcessAll}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// InitializeTasks seeds the default tasks.
func (c *Client) InitializeTasks() (int, error) {
	var resp api.InitializeResponse
	if err := c.do(http.MethodPost, "/tasks", api.TaskActionRequest{Action: api.TaskActionInitialize}, &resp); err != nil {
		return 0, err
	}
	return resp.Created, nil
}

// SetTaskEnabled sends PUT /tasks.
func (c *Client) SetTaskEnabled(taskID string, enabled bool) (*api.TaskResponse, error) {
	var resp api.TaskResponse
	if err := c.do(http.MethodPut, "/tasks", api.ToggleTaskRequest{TaskID: taskID, Enabled: &enabled}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TaskHistory sends GET /tasks/{id}/executions.
func (c *Client) TaskHistory(taskID string, limit int) ([]api.ExecutionResponse, error) {
	var resp api.ListExecutionsResponse
	path := fmt.Sprintf("/tasks/%s/executions?limit=%d", url.PathEscape(taskID), limit)
	if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Executions, nil
}

// AcquireLock sends POST /documents/{id}/lock.
func (c *Client) AcquireLock(documentID, sessionID string) (*api.LockResponse, error) {
	req := api.AcquireLockRequest{}
	if sessionID != "" {
		req.SessionID = &sessionID
	}
	var resp api.LockResponse
	if err := c.do(http.MethodPost, documentPath(documentID, "lock"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReleaseLock sends DELETE /documents/{id}/lock.
func (c *Client) ReleaseLock(documentID string, force bool) error {
	path := documentPath(documentID, "lock")
	if force {
		path += "?force=true"
	}
	return c.do(http.MethodDelete, path, nil, nil)
}

// GetLock sends GET /documents/{id}/lock.
func (c *Client) GetLock(documentID string) (*api.LockResponse, error) {
	var resp api.LockResponse
	if err := c.do(http.MethodGet, documentPath(documentID, "lock"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetWorkflow sends GET /documents/{id}/workflow.
func (c *Client) GetWorkflow(documentID string) (*api.WorkflowResponse, error) {
	var resp api.WorkflowResponse
	if err := c.do(http.MethodGet, documentPath(documentID, "workflow"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateWorkflow sends POST /documents/{id}/workflow.
func (c *Client) CreateWorkflow(documentID string, req api.CreateWorkflowRequest) (*api.WorkflowResponse, error) {
	var resp api.WorkflowResponse
	if err := c.do(http.MethodPost, documentPath(documentID, "workflow"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WorkflowAction sends PUT /documents/{id}/workflow.
func (c *Client) WorkflowAction(documentID string, req api.WorkflowActionRequest) (*api.WorkflowResponse, error) {
	var resp api.WorkflowResponse
	if err := c.do(http.MethodPut, documentPath(documentID, "workflow"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListExpiring sends GET /documents/expiring.
func (c *Client) ListExpiring(days int, includeExpired bool, acknowledged *bool) ([]api.ExpiringDocumentResponse, error) {
	q := url.Values{}
	q.Set("days", strconv.Itoa(days))
	if includeExpired {
		q.Set("expired", "true")
	}
	if acknowledged != nil {
		q.Set("acknowledged", strconv.FormatBool(*acknowledged))
	}

	var resp api.ListExpiringResponse
	if err := c.do(http.MethodGet, "/documents/expiring?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Documents, nil
}

// AcknowledgeAlert sends POST /alerts/{id}/acknowledge.
func (c *Client) AcknowledgeAlert(alertID string) (*api.AlertResponse, error) {
	var resp api.AlertResponse
	if err := c.do(http.MethodPost, "/alerts/"+url.PathEscape(alertID)+"/acknowledge", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListNotifications sends GET /notifications.
func (c *Client) ListNotifications(unread bool, limit int) ([]api.NotificationResponse, error) {
	path := fmt.Sprintf("/notifications?limit=%d", limit)
	if unread {
		path += "&unread=true"
	}
	var resp api.ListNotificationsResponse
	if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Notifications, nil
}

// MarkNotificationRead sends POST /notifications/{id}/read.
func (c *Client) MarkNotificationRead(id string) error {
	return c.do(http.MethodPost, "/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

func documentPath(documentID, resource string) string {
	return "/documents/" + url.PathEscape(documentID) + "/" + resource
}
