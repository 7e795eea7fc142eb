package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	app "github.com/musaver/admintaxmahir-sub002/internal/application/importing"
	"github.com/musaver/admintaxmahir-sub002/internal/domain/importjob"
)

const (
	HeaderTenantID   = "X-Tenant-ID"
	HeaderUploadedBy = "X-Uploaded-By"
)

type ImportHandler struct {
	useCase app.StartImport
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

func NewImportHandler(useCase app.StartImport) *ImportHandler {
	return &ImportHandler{useCase: useCase}
}

// StartImport accepts a multipart upload with a "file" part and an optional
// "type" field.
func (h *ImportHandler) StartImport(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "invalid_file",
			Message: "multipart field \"file\" is required",
		}})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "invalid_file",
			Message: "uploaded file could not be read",
		}})
	}
	defer file.Close()

	out, err := h.useCase.Execute(c.Request().Context(), app.StartImportInput{
		TenantID:   c.Request().Header.Get(HeaderTenantID),
		UploadedBy: c.Request().Header.Get(HeaderUploadedBy),
		ImportType: c.FormValue("type"),
		FileName:   fileHeader.Filename,
		FileSize:   fileHeader.Size,
		Content:    file,
	})
	if err != nil {
		return c.JSON(startImportError(err))
	}

	return c.JSON(http.StatusAccepted, apiResponse{Data: out})
}

func startImportError(err error) (int, apiResponse) {
	switch {
	case errors.Is(err, app.ErrTenantRequired):
		return http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "tenant_required",
			Message: HeaderTenantID + " header is required",
		}}
	case errors.Is(err, app.ErrInvalidImportFile):
		return http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "invalid_file",
			Message: "file must be a .csv upload",
		}}
	case errors.Is(err, app.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, apiResponse{Error: &errorBody{
			Code:    "file_too_large",
			Message: "file exceeds the upload limit",
		}}
	case errors.Is(err, importjob.ErrInvalidImportType):
		return http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "invalid_import_type",
			Message: "type must be one of: users, products",
		}}
	case errors.Is(err, app.ErrEnqueueImportJob):
		return http.StatusServiceUnavailable, apiResponse{Error: &errorBody{
			Code:    "enqueue_failed",
			Message: "import job was created but could not be queued",
		}}
	default:
		return http.StatusInternalServerError, apiResponse{Error: &errorBody{
			Code:    "internal_error",
			Message: "failed to start import",
		}}
	}
}
