// Package swagger holds the OpenAPI document served at /swagger. Regenerate
// with swag when handler annotations change.
package swagger

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
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["auth"],
                "summary": "Authenticate a user",
                "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["auth"],
                "summary": "Exchange a refresh token for new tokens",
                "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}
            }
        },
        "/auth/logout": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["auth"],
                "summary": "Revoke the caller's refresh tokens",
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/auth/change-password": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["auth"],
                "summary": "Change the caller's password",
                "responses": {"204": {"description": "No Content"}, "401": {"description": "Unauthorized"}}
            }
        },
        "/schedule-requests": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["schedule-requests"],
                "summary": "List schedule-change requests",
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["schedule-requests"],
                "summary": "Submit a schedule-change request",
                "responses": {"201": {"description": "Created"}, "409": {"description": "Conflict"}}
            }
        },
        "/schedule-requests/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["schedule-requests"],
                "summary": "Get one schedule-change request",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/schedule-requests/{id}/approve": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["schedule-requests"],
                "summary": "Approve a pending schedule-change request",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}
            }
        },
        "/schedule-requests/{id}/reject": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["schedule-requests"],
                "summary": "Reject a pending schedule-change request",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}
            }
        },
        "/schedule-requests/{id}/confirm": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["schedule-requests"],
                "summary": "Confirm a swap nomination",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}}
            }
        },
        "/schedule-requests/{id}/decline": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["schedule-requests"],
                "summary": "Decline a swap nomination",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}}
            }
        },
        "/sessions": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["sessions"],
                "summary": "List sessions",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/sessions/availability": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["sessions"],
                "summary": "Check resource availability",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/sessions/occupancy": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["sessions"],
                "summary": "List resource occupancy for a date",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/sessions/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["sessions"],
                "summary": "Get one session",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/notifications": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["notifications"],
                "summary": "List the caller's notifications",
                "responses": {"200": {"description": "OK"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Center Ops API",
	Description:      "Training-center operations backend with the teacher schedule-change workflow.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
