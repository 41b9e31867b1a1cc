package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/datallboy/mediafetch/internal/app"
	"github.com/datallboy/mediafetch/internal/domain"
	"github.com/datallboy/mediafetch/internal/engine"
)

type JobController struct {
	App *app.Context
}

// Submit queues one acquisition and answers with the pending job.
func (ctrl *JobController) Submit(c *echo.Context) error {
	var req AcquireRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}

	kind, err := domain.ParseMediaKind(req.Kind)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	acq := domain.Request{URL: req.URL, SuggestedName: req.SuggestedName, Kind: kind}
	if req.HandleRef != "" {
		if domain.IsLocalRef(req.HandleRef) && !ctrl.App.Blobs.Exists(req.HandleRef) {
			return echo.NewHTTPError(http.StatusBadRequest, "Unknown buffer "+req.HandleRef)
		}
		acq.Handle = domain.SourceRef(req.HandleRef)
	}

	view, err := ctrl.App.Queue.Submit(acq)
	if err != nil {
		if errors.Is(err, domain.ErrUnsupportedKind) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		ctrl.App.Logger.Error("Submit failed: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to queue job")
	}

	return c.JSON(http.StatusAccepted, jobResponse(view))
}

// List returns the live queue, or every stored job with ?all=true.
func (ctrl *JobController) List(c *echo.Context) error {
	if c.QueryParam("all") != "true" {
		return c.JSON(http.StatusOK, jobResponses(ctrl.App.Queue.GetAllItems()))
	}

	jobs, err := ctrl.App.Store.GetJobs(c.Request().Context())
	if err != nil {
		ctrl.App.Logger.Error("Listing jobs failed: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list jobs")
	}

	views := make([]engine.JobView, 0, len(jobs))
	for _, job := range jobs {
		// prefer live progress for jobs still running
		if live, ok := ctrl.App.Queue.GetItem(job.ID); ok {
			views = append(views, live)
			continue
		}
		views = append(views, engine.NewJobView(job))
	}
	return c.JSON(http.StatusOK, jobResponses(views))
}

func (ctrl *JobController) Get(c *echo.Context) error {
	view, ok := ctrl.App.Queue.GetItem(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Job not found")
	}
	return c.JSON(http.StatusOK, jobResponse(view))
}

// Cancel stops a pending or running job.
func (ctrl *JobController) Cancel(c *echo.Context) error {
	id := c.Param("id")

	view, ok := ctrl.App.Queue.GetItem(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Job not found")
	}
	if view.Status.IsFinished() || !ctrl.App.Queue.Cancel(id) {
		return echo.NewHTTPError(http.StatusConflict, "Job already finished")
	}
	return c.NoContent(http.StatusNoContent)
}
