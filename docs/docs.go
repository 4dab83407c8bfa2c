// Package docs registers the OpenAPI document served at /docs/doc.json.
package docs

import "github.com/swaggo/swag"

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
        "/fall-events": {
            "get": {
                "tags": ["fall-events"],
                "summary": "List fall events",
                "parameters": [
                    {"type": "integer", "name": "subjectId", "in": "query"},
                    {"type": "string", "name": "status", "in": "query",
                     "enum": ["detected", "confirmed", "false_alarm", "resolved"]},
                    {"type": "integer", "name": "page", "in": "query"},
                    {"type": "integer", "name": "perPage", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/falls.Page"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/respond.ValidationResponse"}}
                }
            },
            "post": {
                "tags": ["fall-events"],
                "summary": "Create fall event",
                "parameters": [
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/falls.CreateInput"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/falls.Event"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/respond.ValidationResponse"}}
                }
            }
        },
        "/fall-events/{id}": {
            "get": {
                "tags": ["fall-events"],
                "summary": "Get fall event",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/falls.Event"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            },
            "patch": {
                "tags": ["fall-events"],
                "summary": "Update fall event",
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/falls.UpdateInput"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/falls.Event"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/respond.ValidationResponse"}}
                }
            },
            "delete": {
                "tags": ["fall-events"],
                "summary": "Delete fall event",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/fall-events/{id}/false-alarm": {
            "patch": {
                "tags": ["fall-events"],
                "summary": "Mark fall event as false alarm",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/falls.Event"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/fall-events/{id}/notifications": {
            "get": {
                "tags": ["fall-events"],
                "summary": "Notification delivery audit",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/alert-config": {
            "get": {
                "tags": ["alert-config"],
                "summary": "List alert configurations",
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "tags": ["alert-config"],
                "summary": "Create alert configuration",
                "responses": {
                    "201": {"description": "Created"},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/respond.ValidationResponse"}}
                }
            }
        },
        "/alert-config/active": {
            "get": {
                "tags": ["alert-config"],
                "summary": "Active alert configuration",
                "responses": {"200": {"description": "OK"}, "304": {"description": "Not Modified"}}
            }
        },
        "/alert-config/{id}/activate": {
            "post": {
                "tags": ["alert-config"],
                "summary": "Activate alert configuration",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/health": {
            "get": {"tags": ["health"], "summary": "Health check", "responses": {"200": {"description": "OK"}}}
        },
        "/health/db": {
            "get": {"tags": ["health"], "summary": "Database health check",
                    "responses": {"200": {"description": "OK"}, "503": {"description": "Service Unavailable"}}}
        }
    },
    "definitions": {
        "falls.CreateInput": {
            "type": "object",
            "properties": {
                "subjectId": {"type": "integer"},
                "detectedAt": {"type": "string", "format": "date-time"},
                "sensorData": {"type": "object"},
                "notes": {"type": "string"}
            }
        },
        "falls.UpdateInput": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["detected", "confirmed", "false_alarm", "resolved"]},
                "notes": {"type": "string"},
                "resolvedAt": {"type": "string", "format": "date-time"},
                "resolvedBy": {"type": "string"},
                "sensorData": {"type": "object"}
            }
        },
        "falls.Event": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "subjectId": {"type": "integer"},
                "detectedAt": {"type": "string", "format": "date-time"},
                "status": {"type": "string"},
                "notes": {"type": "string"},
                "sensorData": {"type": "object"},
                "resolvedAt": {"type": "string", "format": "date-time"},
                "resolvedBy": {"type": "string"},
                "responseTimeSeconds": {"type": "integer"},
                "createdAt": {"type": "string", "format": "date-time"},
                "updatedAt": {"type": "string", "format": "date-time"}
            }
        },
        "falls.Page": {
            "type": "object",
            "properties": {
                "data": {"type": "array", "items": {"$ref": "#/definitions/falls.Event"}},
                "page": {"type": "integer"},
                "perPage": {"type": "integer"},
                "total": {"type": "integer"},
                "lastPage": {"type": "integer"}
            }
        },
        "respond.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {
                    "type": "object",
                    "properties": {"code": {"type": "string"}, "message": {"type": "string"}}
                }
            }
        },
        "respond.ValidationResponse": {
            "type": "object",
            "properties": {
                "errors": {
                    "type": "object",
                    "additionalProperties": {"type": "array", "items": {"type": "string"}}
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "localhost:8000",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "Fallguard Escalation API",
	Description:      "Fall event lifecycle, alert thresholds and caregiver notification delivery.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
