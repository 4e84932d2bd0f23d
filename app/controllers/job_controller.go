package controllers

import (
	"github.com/ManuelReschke/LeadHub/internal/pkg/scheduler"
	"github.com/gofiber/fiber/v2"
)

type JobController struct {
	manager *scheduler.Manager
}

func NewJobController(manager *scheduler.Manager) *JobController {
	return &JobController{manager: manager}
}

// HandleListJobs lists the jobs that can be triggered.
func (jc *JobController) HandleListJobs(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"jobs":    scheduler.Jobs,
		"running": jc.manager.IsRunning(),
	})
}

// HandleRunJob runs one pass of the job in the request and returns its
// summary. A pass already running anywhere yields 409.
func (jc *JobController) HandleRunJob(c *fiber.Ctx) error {
	summary, err := jc.manager.Trigger(c.UserContext(), c.Params("job"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(summary)
}
