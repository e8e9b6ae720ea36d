package handler

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// DefaultSwaggerPath is where the API document lives relative to the
// working directory of cmd/server.
const DefaultSwaggerPath = "docs/swagger.json"

// SetupSwagger loads the OpenAPI document once and serves it under
// /swagger/doc.json with a UI page titled from the document's info.title.
// It fails when the document is missing or not JSON.
func SetupSwagger(router gin.IRoutes, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read api docs: %w", err)
	}

	var doc struct {
		Info struct {
			Title   string `json:"title"`
			Version string `json:"version"`
		} `json:"info"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse api docs %s: %w", path, err)
	}

	title := strings.TrimSpace(doc.Info.Title + " " + doc.Info.Version)
	if title == "" {
		title = "API"
	}
	var page strings.Builder
	if err := swaggerUI.Execute(&page, title); err != nil {
		return fmt.Errorf("render api docs page: %w", err)
	}
	html := []byte(page.String())

	serveDoc := func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
	}
	router.GET("/swagger/doc.json", serveDoc)
	router.GET("/swagger/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "doc.json" {
			serveDoc(c)
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", html)
	})
	return nil
}

var swaggerUI = template.Must(template.New("swagger").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>{{.}} - API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: '/swagger/doc.json',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
      layout: "BaseLayout"
    });
  </script>
</body>
</html>`))
