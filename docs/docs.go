// Package docs holds the OpenAPI document served at /docs.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Worker information",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.WorkerInfoResponse"}}}
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Health check",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.HealthResponse"}}}
            }
        },
        "/start": {
            "post": {
                "description": "Open the camera and start the detection loop. Idempotent while running.",
                "produces": ["application/json"],
                "tags": ["session"],
                "summary": "Start detection",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SessionResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/handlers.SessionResponse"}}
                }
            }
        },
        "/stop": {
            "post": {
                "description": "Ask the detection loop to stop after the current frame. Does not wait.",
                "produces": ["application/json"],
                "tags": ["session"],
                "summary": "Stop detection",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SessionResponse"}}}
            }
        },
        "/status": {
            "get": {
                "description": "Latest published compliance state plus the capture session state",
                "produces": ["application/json"],
                "tags": ["session"],
                "summary": "Detection status",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.StatusResponse"}}}
            }
        },
        "/ws/status": {
            "get": {
                "description": "Sends a StatusResponse JSON message on every processed frame",
                "tags": ["session"],
                "summary": "Live status over websocket",
                "responses": {"101": {"description": "Switching Protocols"}}
            }
        },
        "/video_feed": {
            "get": {
                "description": "multipart/x-mixed-replace JPEG stream. Ends when detection stops.",
                "produces": ["multipart/x-mixed-replace"],
                "tags": ["stream"],
                "summary": "Live annotated video",
                "responses": {
                    "200": {"description": "OK"},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/snapshot": {
            "get": {
                "produces": ["image/jpeg"],
                "tags": ["stream"],
                "summary": "Latest annotated frame",
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/alerts": {
            "get": {
                "description": "Recent notification and alert delivery attempts, newest first",
                "produces": ["application/json"],
                "tags": ["alerts"],
                "summary": "Alert history",
                "parameters": [{"type": "integer", "description": "Maximum number of records (default 100)", "name": "limit", "in": "query"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.AlertsResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/system/stats": {
            "get": {
                "description": "Process statistics and capture counters",
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Get system stats",
                "responses": {"200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}}}
            }
        },
        "/metrics": {
            "get": {
                "produces": ["text/plain"],
                "tags": ["system"],
                "summary": "Prometheus metrics",
                "responses": {"200": {"description": "OK"}}
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean", "example": false},
                "error": {"type": "string", "example": "camera is still being released"}
            }
        },
        "handlers.SessionResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean", "example": true},
                "state": {"type": "string", "example": "RUNNING"},
                "message": {"type": "string", "example": "Safety detection is now live"},
                "error": {"type": "string"}
            }
        },
        "handlers.StatusResponse": {
            "type": "object",
            "properties": {
                "helmet_detected": {"type": "boolean"},
                "jacket_detected": {"type": "boolean"},
                "status": {"type": "string", "example": "SAFE"},
                "person_count": {"type": "integer"},
                "safe_count": {"type": "integer"},
                "unsafe_count": {"type": "integer"},
                "timestamp": {"type": "string", "example": "2024-05-01 12:00:00"},
                "frame_id": {"type": "integer"},
                "session": {"$ref": "#/definitions/models.SessionInfo"}
            }
        },
        "handlers.AlertsResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "count": {"type": "integer"},
                "alerts": {"type": "array", "items": {"$ref": "#/definitions/models.AlertRecord"}}
            }
        },
        "handlers.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "healthy"},
                "worker_id": {"type": "string", "example": "ppe-worker-1"},
                "session": {"type": "string", "example": "RUNNING"}
            }
        },
        "handlers.WorkerInfoResponse": {
            "type": "object",
            "properties": {
                "worker_id": {"type": "string", "example": "ppe-worker-1"},
                "status": {"type": "string", "example": "running"},
                "version": {"type": "string", "example": "1.0.0"},
                "capabilities": {"type": "array", "items": {"type": "string"}}
            }
        },
        "models.SessionInfo": {
            "type": "object",
            "properties": {
                "state": {"type": "string", "example": "IDLE"},
                "last_error": {"type": "string"},
                "frames_processed": {"type": "integer"}
            }
        },
        "models.AlertRecord": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "event_id": {"type": "string"},
                "kind": {"type": "string", "example": "ALERT"},
                "status": {"type": "string", "example": "UNSAFE"},
                "message": {"type": "string"},
                "transport": {"type": "string", "example": "webhook"},
                "delivered": {"type": "boolean"},
                "error": {"type": "string"},
                "timestamp": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "localhost:5000",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "PPE Safety Worker API",
	Description:      "Watches a camera for workers missing helmets or safety jackets, streams annotated video and raises alerts",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
