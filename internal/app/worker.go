package app

import (
	"context"
	"fmt"
	"log/slog"

	"docexport/internal/queue"
)

// exportTaskHandler returns the rendering callback registered on the
// queue manager. Rendering itself lives behind this seam; the handler
// contract is one ConsumeResult per delivery.
func exportTaskHandler() queue.Handler {
	return func(ctx context.Context, msg queue.ExportTaskMessage) (queue.ConsumeResult, error) {
		slog.InfoContext(ctx, "Processing export task",
			"task_id", msg.TaskID,
			"template_id", msg.TemplateID,
			"output_format", msg.OutputFormat,
		)

		if msg.TemplateID == "" {
			return queue.ConsumeResult{
				Success:      false,
				TaskID:       msg.TaskID,
				ErrorMessage: "export task has no template_id",
			}, fmt.Errorf("export task %s has no template_id", msg.TaskID)
		}

		// TODO: call the document renderer once the rendering service
		// client lands; until then accepting the task is the whole job.
		return queue.ConsumeResult{
			Success: true,
			TaskID:  msg.TaskID,
		}, nil
	}
}
