package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskMessage(t *testing.T) {
	t.Parallel()

	t.Run("generates a task id when none is given", func(t *testing.T) {
		msg := newTaskMessage(ExportTask{TemplateID: "invoice-v2", OutputFormat: "pdf"})

		assert.NotEmpty(t, msg.TaskID)
		assert.Equal(t, "invoice-v2", msg.TemplateID)
		assert.False(t, msg.CreatedAt.IsZero())
	})

	t.Run("keeps the caller-supplied task id", func(t *testing.T) {
		msg := newTaskMessage(ExportTask{TaskID: "task-42", TemplateID: "invoice-v2"})
		assert.Equal(t, "task-42", msg.TaskID)
	})
}

func TestParseExportTaskMessage(t *testing.T) {
	t.Parallel()

	t.Run("round trips through the wire format", func(t *testing.T) {
		msg := newTaskMessage(ExportTask{
			TemplateID:   "report",
			Data:         map[string]any{"title": "Q3"},
			OutputFormat: "xlsx",
			Priority:     3,
		})

		body, err := msg.Marshal()
		require.NoError(t, err)

		got, err := ParseExportTaskMessage(body)
		require.NoError(t, err)
		assert.Equal(t, msg.TaskID, got.TaskID)
		assert.Equal(t, "Q3", got.Data["title"])
		assert.Equal(t, 3, got.Priority)
	})

	t.Run("rejects malformed bodies", func(t *testing.T) {
		_, err := ParseExportTaskMessage([]byte("{not json"))
		assert.Error(t, err)
	})
}

func TestNewQueueMessage(t *testing.T) {
	t.Parallel()

	msg := newTaskMessage(ExportTask{TaskID: "task-7", TemplateID: "contract", OutputFormat: "docx"})

	env, err := newQueueMessage("export.tasks", "EXPORT_TASK", msg)
	require.NoError(t, err)

	assert.NotEmpty(t, env.MessageID)
	assert.Equal(t, "export.tasks", env.Topic)
	assert.Equal(t, "EXPORT_TASK", env.Tag)
	assert.Equal(t, "task-7", env.Keys)
	assert.Equal(t, "task-7", env.Properties["TASK_ID"])
	assert.Equal(t, "contract", env.Properties["TEMPLATE_ID"])
	assert.Equal(t, "docx", env.Properties["OUTPUT_FORMAT"])
}
