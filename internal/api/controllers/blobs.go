package controllers

import (
	"errors"
	"net/http"
	"os"

	"github.com/labstack/echo/v5"

	"github.com/datallboy/mediafetch/internal/app"
)

type BlobController struct {
	App *app.Context
}

// Upload stores the raw request body as a local buffer and returns its ref.
func (ctrl *BlobController) Upload(c *echo.Context) error {
	ref, n, err := ctrl.App.Blobs.PutBuffer(c.Request().Context(), c.Request().Body)
	if err != nil {
		ctrl.App.Logger.Error("Storing buffer failed: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to store buffer")
	}
	if n == 0 {
		_ = ctrl.App.Blobs.Delete(ref)
		return echo.NewHTTPError(http.StatusBadRequest, "Empty buffer")
	}
	return c.JSON(http.StatusCreated, BlobResponse{Ref: ref, Size: n})
}

func (ctrl *BlobController) Delete(c *echo.Context) error {
	if err := ctrl.App.Blobs.Delete(c.Param("ref")); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return echo.NewHTTPError(http.StatusNotFound, "Buffer not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
