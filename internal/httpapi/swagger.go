//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/swaggo/swag"

	httpSwagger "github.com/swaggo/http-swagger"
)

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "{{.Title}}",
        "description": "{{escape .Description}}",
        "version": "{{.Version}}"
    },
    "basePath": "{{.BasePath}}",
    "paths": {
        "/models": {"get": {"summary": "List registered models", "responses": {"200": {"description": "OK"}}}},
        "/models/{name}/versions": {"get": {"summary": "List model versions", "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}},
        "/deploy/{name}/{version}": {"post": {"summary": "Deploy a model version", "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}, "502": {"description": "Launch failed"}, "503": {"description": "No free port"}, "504": {"description": "Readiness timeout"}}}},
        "/undeploy/{id}": {"post": {"summary": "Undeploy a deployment", "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}},
        "/deployments": {"get": {"summary": "List deployments", "responses": {"200": {"description": "OK"}}}},
        "/deployments/free-ports": {"get": {"summary": "Free port count", "responses": {"200": {"description": "OK"}}}},
        "/status": {"get": {"summary": "Control plane status", "responses": {"200": {"description": "OK"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Title:            "deployd API",
	Description:      "Model deployment control plane and inference router.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// MountSwagger serves the Swagger UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
