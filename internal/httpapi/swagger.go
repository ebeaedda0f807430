package httpapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/swaggo/swag"

	httpSwagger "github.com/swaggo/http-swagger"
)

// SwaggerInfo describes the producer API.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "streamsub producer API",
	Description:      "Server-sent event streams with a JSON publish endpoint.",
	InfoInstanceName: "streamsub",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// MountSwagger serves the UI under /swagger/ and the document at /swagger/doc.json.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.InstanceName(SwaggerInfo.InstanceName()),
	))
}

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/streams": {
            "get": {
                "produces": ["application/json"],
                "summary": "List streams",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StreamsResponse"}}
                }
            }
        },
        "/stream/{name}": {
            "get": {
                "produces": ["text/event-stream"],
                "summary": "Subscribe to a stream",
                "parameters": [{"type": "string", "name": "name", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "event stream"},
                    "204": {"description": "stream closed, do not reconnect"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Publish one event",
                "parameters": [
                    {"type": "string", "name": "name", "in": "path", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.PublishRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/types.PublishResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "403": {"description": "stream limit reached", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "415": {"description": "Unsupported Media Type", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "integer", "example": 400},
                "error": {"type": "string", "example": "invalid JSON body"}
            }
        },
        "types.PublishRequest": {
            "type": "object",
            "properties": {
                "data": {"type": "string", "example": "x:12 y:-3 z:998"},
                "event": {"type": "string", "example": "reading"}
            }
        },
        "types.PublishResponse": {
            "type": "object",
            "properties": {
                "clients": {"type": "integer", "example": 1},
                "id": {"type": "string"}
            }
        },
        "types.StreamInfo": {
            "type": "object",
            "properties": {
                "clients": {"type": "integer", "example": 1},
                "name": {"type": "string", "example": "accelerometer"}
            }
        },
        "types.StreamsResponse": {
            "type": "object",
            "properties": {
                "streams": {"type": "array", "items": {"$ref": "#/definitions/types.StreamInfo"}}
            }
        }
    }
}`
