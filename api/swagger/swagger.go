package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "NovaCal API",
        "description": "Scheduling platform: availability, routed bookings, group events, meeting polls, and bidirectional calendar sync",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Operator login"},
        {"name": "AppointmentTypes", "description": "Bookable appointment type catalog"},
        {"name": "Availability", "description": "Availability profiles and slot computation"},
        {"name": "Bookings", "description": "Appointment booking and lifecycle"},
        {"name": "BookingLinks", "description": "Shareable booking links"},
        {"name": "GroupEvents", "description": "Group event attendees and waitlists"},
        {"name": "Polls", "description": "Meeting polls"},
        {"name": "Connections", "description": "Provider calendar connections"},
        {"name": "SyncAdmin", "description": "Sync attempt log operator tooling"},
        {"name": "Exports", "description": "Schedule PDF exports"},
        {"name": "Observability", "description": "Health and metrics"}
    ],
    "paths": {
        "/health": {
            "get": {
                "tags": ["Observability"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "tags": ["Observability"],
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate an operator",
                "responses": {
                    "200": {"description": "Access token issued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/appointment-types": {
            "get": {
                "tags": ["AppointmentTypes"],
                "summary": "List appointment types",
                "parameters": [
                    {"name": "active", "in": "query", "type": "boolean"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["AppointmentTypes"],
                "summary": "Create an appointment type",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/appointment-types/{id}": {
            "get": {
                "tags": ["AppointmentTypes"],
                "summary": "Get an appointment type",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["AppointmentTypes"],
                "summary": "Update an appointment type",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["AppointmentTypes"],
                "summary": "Deactivate an appointment type",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deactivated"}
                }
            }
        },
        "/availability-profiles": {
            "put": {
                "tags": ["Availability"],
                "summary": "Create or replace an availability profile",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/availability-profiles/{ownerId}": {
            "get": {
                "tags": ["Availability"],
                "summary": "Get an availability profile",
                "parameters": [
                    {"name": "ownerId", "in": "path", "required": true, "type": "string"},
                    {"name": "kind", "in": "query", "type": "string", "enum": ["staff", "pool"]}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/public/{tenantId}/types/{typeId}/slots": {
            "get": {
                "tags": ["Availability"],
                "summary": "List bookable slots for a type",
                "parameters": [
                    {"name": "tenantId", "in": "path", "required": true, "type": "string"},
                    {"name": "typeId", "in": "path", "required": true, "type": "string"},
                    {"name": "from", "in": "query", "required": true, "type": "string", "format": "date"},
                    {"name": "to", "in": "query", "required": true, "type": "string", "format": "date"},
                    {"name": "staff_id", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Bad date range", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/public/{tenantId}/bookings": {
            "post": {
                "tags": ["Bookings"],
                "summary": "Book an appointment",
                "parameters": [
                    {"name": "tenantId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Slot no longer available", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/appointments": {
            "get": {
                "tags": ["Bookings"],
                "summary": "List appointments",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "staff_id", "in": "query", "type": "string"},
                    {"name": "from", "in": "query", "type": "string", "format": "date-time"},
                    {"name": "to", "in": "query", "type": "string", "format": "date-time"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/appointments/{id}": {
            "get": {
                "tags": ["Bookings"],
                "summary": "Get an appointment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/appointments/{id}/confirm": {
            "post": {
                "tags": ["Bookings"],
                "summary": "Confirm a requested appointment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Illegal transition", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/appointments/{id}/cancel": {
            "post": {
                "tags": ["Bookings"],
                "summary": "Cancel an appointment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Illegal transition", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/appointments/{id}/substitute-host": {
            "post": {
                "tags": ["Bookings"],
                "summary": "Substitute the assigned host",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Substitute unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/appointments/{id}/history": {
            "get": {
                "tags": ["Bookings"],
                "summary": "List appointment status history",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/booking-links": {
            "post": {
                "tags": ["BookingLinks"],
                "summary": "Create a booking link",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/public/{tenantId}/links/{slug}": {
            "post": {
                "tags": ["BookingLinks"],
                "summary": "Resolve a booking link",
                "parameters": [
                    {"name": "tenantId", "in": "path", "required": true, "type": "string"},
                    {"name": "slug", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Link requirements not met", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "410": {"description": "Link expired or exhausted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/public/{tenantId}/appointments/{id}/attendees": {
            "post": {
                "tags": ["GroupEvents"],
                "summary": "Register a group event attendee",
                "parameters": [
                    {"name": "tenantId", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "201": {"description": "Registered or waitlisted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Event full", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["GroupEvents"],
                "summary": "Cancel a group event attendee",
                "parameters": [
                    {"name": "tenantId", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "email", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Cancelled, possibly with a waitlist promotion", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/appointments/{id}/attendees": {
            "get": {
                "tags": ["GroupEvents"],
                "summary": "Group event roster with waitlist",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/polls": {
            "post": {
                "tags": ["Polls"],
                "summary": "Create a meeting poll",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/public/{tenantId}/polls/{id}/votes": {
            "post": {
                "tags": ["Polls"],
                "summary": "Cast or revise a poll ballot",
                "parameters": [
                    {"name": "tenantId", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Ballot recorded", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Ballot invalid", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/polls/{id}/resolve": {
            "post": {
                "tags": ["Polls"],
                "summary": "Resolve a poll into a booked appointment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/connections": {
            "get": {
                "tags": ["Connections"],
                "summary": "List calendar connections",
                "parameters": [
                    {"name": "staff_id", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Connections"],
                "summary": "Connect a provider calendar",
                "responses": {
                    "201": {"description": "Connected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/connections/{id}": {
            "delete": {
                "tags": ["Connections"],
                "summary": "Disconnect a provider calendar",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Disconnected"}
                }
            }
        },
        "/staff/{staffId}/busy": {
            "get": {
                "tags": ["Connections"],
                "summary": "Merged busy intervals across connected calendars",
                "parameters": [
                    {"name": "staffId", "in": "path", "required": true, "type": "string"},
                    {"name": "from", "in": "query", "required": true, "type": "string", "format": "date-time"},
                    {"name": "to", "in": "query", "required": true, "type": "string", "format": "date-time"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/sync/attempts": {
            "get": {
                "tags": ["SyncAdmin"],
                "summary": "List sync attempts",
                "parameters": [
                    {"name": "connection_id", "in": "query", "type": "string"},
                    {"name": "outcome", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/sync/attempts/{correlationId}/replay": {
            "post": {
                "tags": ["SyncAdmin"],
                "summary": "Replay an exhausted sync chain",
                "parameters": [
                    {"name": "correlationId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Replay scheduled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/sync/connections/{id}/resync": {
            "post": {
                "tags": ["SyncAdmin"],
                "summary": "Force a full resync of a connection",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Resync started", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports/schedule": {
            "post": {
                "tags": ["Exports"],
                "summary": "Generate a staff schedule PDF",
                "responses": {
                    "201": {"description": "Export ready", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/export/{token}": {
            "get": {
                "tags": ["Exports"],
                "summary": "Download a generated export",
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "PDF stream"},
                    "410": {"description": "Token expired"}
                }
            }
        },
        "/admin/status": {
            "get": {
                "tags": ["Observability"],
                "summary": "Runtime metrics snapshot",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
