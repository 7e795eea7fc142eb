package echo

import e "github.com/labstack/echo/v4"

func RegisterRoutes(server *e.Echo, importHandler *ImportHandler, statusHandler *StatusHandler) {
	api := server.Group("/api/v1")
	api.POST("/imports", importHandler.StartImport)
	api.GET("/imports/:id", statusHandler.GetImportStatus)
}
