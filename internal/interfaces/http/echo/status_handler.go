package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	app "github.com/musaver/admintaxmahir-sub002/internal/application/importing"
)

type StatusHandler struct {
	useCase app.GetImportStatus
}

func NewStatusHandler(useCase app.GetImportStatus) *StatusHandler {
	return &StatusHandler{useCase: useCase}
}

func (h *StatusHandler) GetImportStatus(c echo.Context) error {
	out, err := h.useCase.Execute(c.Request().Context(), app.GetImportStatusInput{
		TenantID: c.Request().Header.Get(HeaderTenantID),
		JobID:    c.Param("id"),
	})
	if err != nil {
		if errors.Is(err, app.ErrImportNotFound) {
			return c.JSON(http.StatusNotFound, apiResponse{Error: &errorBody{
				Code:    "not_found",
				Message: "import job not found",
			}})
		}

		return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{
			Code:    "internal_error",
			Message: "failed to get import status",
		}})
	}

	return c.JSON(http.StatusOK, apiResponse{Data: out})
}
