package server

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/labstack/echo/v4"
	apidocs "github.com/mohammad-safakhou/marketbrain/docs"
)

const (
	openAPIPath = "/docs/openapi.yaml"
	docsPath    = "/docs"
)

var redocPage = template.Must(template.New("redoc").Parse(`<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>{{.Title}}</title>
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <style>body{margin:0;padding:0;}</style>
  </head>
  <body>
    <redoc spec-url="{{.SpecURL}}" hide-download-button></redoc>
    <script src="https://cdn.jsdelivr.net/npm/redoc/bundles/redoc.standalone.js"></script>
  </body>
</html>`))

// registerDocs serves the embedded OpenAPI document and a ReDoc page for it.
// Both are public; the document itself lists which routes need a token.
func registerDocs(e *echo.Echo) {
	var page bytes.Buffer
	if err := redocPage.Execute(&page, struct{ Title, SpecURL string }{"Marketbrain Knowledge API", openAPIPath}); err != nil {
		panic(err)
	}
	html := page.String()

	e.GET(openAPIPath, func(c echo.Context) error {
		return c.Blob(http.StatusOK, "application/yaml", apidocs.OpenAPI)
	})
	e.GET(docsPath, func(c echo.Context) error {
		return c.HTML(http.StatusOK, html)
	})
}
