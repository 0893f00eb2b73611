// Package docs registers the operator API's Swagger 2.0 document with swag
// so gin-swagger can serve it at /swagger/doc.json.
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
        "/queue/records": {
            "get": {
                "tags": ["Queue"],
                "summary": "List queue records (paginated)",
                "operationId": "listQueueRecords",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "description": "pending|processing|completed|failed", "name": "status", "in": "query"},
                    {"type": "integer", "name": "page", "in": "query"},
                    {"type": "integer", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "tags": ["Queue"],
                "summary": "Enqueue raw records",
                "description": "Accepts a JSON array of arbitrarily shaped records. Records without a device identifier are rejected individually.",
                "operationId": "enqueueRecords",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "description": "Replays the stored response for a repeated key", "name": "Idempotency-Key", "in": "header"},
                    {"type": "string", "description": "Operator id", "name": "X-Operator-ID", "in": "header"},
                    {"description": "Raw records", "name": "body", "in": "body", "required": true, "schema": {"type": "array", "items": {"type": "object"}}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/services.EnqueueResult"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "413": {"description": "Payload too large", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/queue/import": {
            "post": {
                "tags": ["Queue"],
                "summary": "Import a CSV or XLSX inspection export",
                "operationId": "importFile",
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "file", "name": "file", "in": "formData", "required": true}
                ],
                "responses": {
                    "202": {"description": "Accepted"},
                    "413": {"description": "Payload too large", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "415": {"description": "Unsupported file", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "422": {"description": "Unreadable file", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/queue/stats": {
            "get": {
                "tags": ["Queue"],
                "summary": "Queue depth by status",
                "operationId": "queueStats",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/repo.QueueCounts"}}
                }
            }
        },
        "/queue/drain": {
            "post": {
                "tags": ["Queue"],
                "summary": "Claim pending records and run them through the pipeline",
                "operationId": "drainQueue",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "integer", "description": "rows to claim (0 = server default)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.DrainResult"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/queue/retry": {
            "post": {
                "tags": ["Queue"],
                "summary": "Reset failed records to pending",
                "operationId": "retryFailed",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/queue/prune": {
            "post": {
                "tags": ["Queue"],
                "summary": "Delete terminal records past the retention window",
                "operationId": "pruneQueue",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "description": "Go duration, e.g. 720h", "name": "older_than", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/archive/{deviceId}": {
            "post": {
                "tags": ["Archive"],
                "summary": "Archive one device",
                "operationId": "archiveDevice",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "deviceId", "in": "path", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.ArchiveRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.ArchiveSummary"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/archive/bulk": {
            "post": {
                "tags": ["Archive"],
                "summary": "Archive many devices with per-device failure reporting",
                "operationId": "bulkArchive",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.BulkArchiveRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.ArchiveSummary"}},
                    "504": {"description": "Interrupted; summary holds the committed part", "schema": {"$ref": "#/definitions/handlers.PartialArchiveResponse"}}
                }
            }
        },
        "/archive/nuclear": {
            "post": {
                "tags": ["Archive"],
                "summary": "Archive every product",
                "operationId": "nuclearDelete",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.NuclearRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.ArchiveSummary"}},
                    "400": {"description": "Missing confirmation", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "504": {"description": "Interrupted; summary holds the committed part", "schema": {"$ref": "#/definitions/handlers.PartialArchiveResponse"}}
                }
            }
        },
        "/archive/entries": {
            "get": {
                "tags": ["Archive"],
                "summary": "List archive entries (paginated)",
                "operationId": "listArchiveEntries",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "device_id", "in": "query"},
                    {"type": "string", "name": "table", "in": "query"},
                    {"type": "boolean", "name": "consumed", "in": "query"},
                    {"type": "integer", "name": "page", "in": "query"},
                    {"type": "integer", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/restore/{deviceId}": {
            "post": {
                "tags": ["Archive"],
                "summary": "Restore the latest archive of a device",
                "operationId": "restoreDevice",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "deviceId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.RestoreSummary"}},
                    "404": {"description": "No archive entries", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Device is live", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/stats/health": {
            "get": {
                "tags": ["Stats"],
                "summary": "Queue, archive and inventory totals",
                "operationId": "health",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.Health"}},
                    "503": {"description": "Database unavailable", "schema": {"$ref": "#/definitions/services.Health"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "code": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "handlers.PartialArchiveResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "code": {"type": "string"},
                "message": {"type": "string"},
                "summary": {"$ref": "#/definitions/services.ArchiveSummary"}
            }
        },
        "handlers.ArchiveRequest": {
            "type": "object",
            "required": ["reason"],
            "properties": {"reason": {"type": "string", "maxLength": 500}}
        },
        "handlers.BulkArchiveRequest": {
            "type": "object",
            "required": ["device_ids", "reason"],
            "properties": {
                "device_ids": {"type": "array", "items": {"type": "string"}},
                "reason": {"type": "string", "maxLength": 500}
            }
        },
        "handlers.NuclearRequest": {
            "type": "object",
            "required": ["confirm", "reason"],
            "properties": {
                "confirm": {"type": "string", "example": "DELETE ALL PRODUCTS"},
                "reason": {"type": "string"}
            }
        },
        "repo.QueueCounts": {
            "type": "object",
            "properties": {
                "pending": {"type": "integer"},
                "processing": {"type": "integer"},
                "completed": {"type": "integer"},
                "failed": {"type": "integer"},
                "total": {"type": "integer"}
            }
        },
        "services.EnqueueResult": {
            "type": "object",
            "properties": {
                "accepted": {"type": "integer"},
                "ids": {"type": "array", "items": {"type": "string"}},
                "rejected": {"type": "array", "items": {"type": "object"}}
            }
        },
        "services.DrainResult": {
            "type": "object",
            "properties": {
                "claimed": {"type": "integer"},
                "completed": {"type": "integer"},
                "failed": {"type": "integer"},
                "requeued": {"type": "integer"},
                "released": {"type": "integer"}
            }
        },
        "services.ArchiveSummary": {
            "type": "object",
            "properties": {
                "reason": {"type": "string"},
                "tables": {"type": "object", "additionalProperties": {"type": "integer"}},
                "archived": {"type": "array", "items": {"type": "string"}},
                "failed": {"type": "array", "items": {"type": "object"}},
                "batch_ids": {"type": "array", "items": {"type": "string"}}
            }
        },
        "services.RestoreSummary": {
            "type": "object",
            "properties": {
                "device_id": {"type": "string"},
                "batch_id": {"type": "string"},
                "tables": {"type": "object", "additionalProperties": {"type": "integer"}},
                "superseded": {"type": "integer"}
            }
        },
        "services.Health": {
            "type": "object",
            "properties": {
                "queue": {"$ref": "#/definitions/repo.QueueCounts"},
                "archive": {"type": "object"},
                "products": {"type": "integer"},
                "inventory_rows": {"type": "integer"},
                "locations": {"type": "integer"},
                "db": {"type": "string"}
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
	Title:            "Device Intake API",
	Description:      "Operator API for the device intake queue, upsert pipeline and inventory archive.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
