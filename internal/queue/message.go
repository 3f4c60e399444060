package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExportTaskMessage is the canonical task envelope carried by both
// backends. The JSON field names are the wire contract between producer
// and consumer regardless of which backend is active.
type ExportTaskMessage struct {
	TaskID          string         `json:"task_id"`
	TemplateID      string         `json:"template_id"`
	TemplateVersion string         `json:"template_version,omitempty"`
	Data            map[string]any `json:"data"`
	OutputFormat    string         `json:"output_format"`
	Priority        int            `json:"priority"`
	RetryCount      int            `json:"retry_count"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Marshal serializes the message for transport.
func (m ExportTaskMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ParseExportTaskMessage deserializes a transported message body.
func ParseExportTaskMessage(body []byte) (ExportTaskMessage, error) {
	var m ExportTaskMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return ExportTaskMessage{}, err
	}
	return m, nil
}

// ConsumeResult is produced exactly once per handler dispatch. Handler
// panics and errors are converted into a failed result at the dispatch
// boundary; they never escape the consumption loop.
type ConsumeResult struct {
	Success        bool          `json:"success"`
	TaskID         string        `json:"task_id"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	ProcessingTime time.Duration `json:"processing_time,omitempty"`
}

// Handler processes one delivered export task. A non-nil error marks the
// delivery as failed even when the returned result claims success.
type Handler func(ctx context.Context, msg ExportTaskMessage) (ConsumeResult, error)

// ExportTask holds the caller-facing parameters of a single send.
// TaskID is optional; a fresh id is generated when it is empty so the
// returned id is always known to the caller.
type ExportTask struct {
	TemplateID      string
	TemplateVersion string
	Data            map[string]any
	OutputFormat    string
	Priority        int
	TaskID          string
}

// BatchExportTask holds the parameters of a batch send. A batch is
// repeated single sends: a partial failure leaves earlier messages
// dispatched.
type BatchExportTask struct {
	TemplateID      string
	TemplateVersion string
	DataList        []map[string]any
	OutputFormat    string
	Priority        int
}

func newTaskMessage(task ExportTask) ExportTaskMessage {
	id := task.TaskID
	if id == "" {
		id = uuid.New().String()
	}
	return ExportTaskMessage{
		TaskID:          id,
		TemplateID:      task.TemplateID,
		TemplateVersion: task.TemplateVersion,
		Data:            task.Data,
		OutputFormat:    task.OutputFormat,
		Priority:        task.Priority,
		CreatedAt:       time.Now().UTC(),
	}
}

// QueueMessage is the fallback-only transport envelope wrapping a
// serialized ExportTaskMessage for transit through the in-process queue.
type QueueMessage struct {
	MessageID  string            `json:"message_id"`
	Topic      string            `json:"topic"`
	Tag        string            `json:"tag"`
	Body       []byte            `json:"body"`
	Keys       string            `json:"keys"`
	Properties map[string]string `json:"properties"`
	Timestamp  time.Time         `json:"timestamp"`
}

func newQueueMessage(topic, tag string, msg ExportTaskMessage) (QueueMessage, error) {
	body, err := msg.Marshal()
	if err != nil {
		return QueueMessage{}, err
	}
	return QueueMessage{
		MessageID: uuid.New().String(),
		Topic:     topic,
		Tag:       tag,
		Body:      body,
		Keys:      msg.TaskID,
		Properties: map[string]string{
			"TASK_ID":       msg.TaskID,
			"TEMPLATE_ID":   msg.TemplateID,
			"OUTPUT_FORMAT": msg.OutputFormat,
		},
		Timestamp: time.Now().UTC(),
	}, nil
}
