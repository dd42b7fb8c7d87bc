// Package openapi builds the OpenAPI 3.1 document describing the roleguard
// HTTP API.
package openapi

import (
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Options parameterize the generated document.
type Options struct {
	BaseURL      string
	APIKeyHeader string
	Version      string
}

type security int

const (
	secNone security = iota
	secAPIKey
	secAdmin
	secPrincipal
)

// Generate returns the OpenAPI document for the decision and system APIs.
func Generate(opts Options) *openapi3.T {
	if opts.APIKeyHeader == "" {
		opts.APIKeyHeader = "X-API-Key"
	}
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}

	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "roleguard API",
			Description: "Role-based access decisions for views and template sections, and management of the role assignments behind them.",
			Version:     opts.Version,
		},
	}
	if opts.BaseURL != "" {
		doc.Servers = openapi3.Servers{{URL: opts.BaseURL}}
	}

	// Initialize components
	components := openapi3.NewComponents()
	components.Schemas = componentSchemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	// Add security schemes
	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: opts.APIKeyHeader,
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
			Description:  "Admin session token from POST /api/v1/system/admin/session.",
		},
	}
	doc.Components.SecuritySchemes["principalToken"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
			Description:  "Principal token asserting a subject and its roles.",
		},
	}

	doc.Paths = openapi3.NewPaths()
	addProbePaths(doc)
	addAccessPaths(doc)
	addSystemPaths(doc)
	return doc
}

func addProbePaths(doc *openapi3.T) {
	status := openapi3.NewObjectSchema().WithProperty("status", openapi3.NewStringSchema())
	add(doc, "/healthz", http.MethodGet, &openapi3.Operation{
		Tags:        []string{"probe"},
		Summary:     "Liveness probe",
		OperationID: "healthz",
		Responses:   newResponses("200", "Process is up", &openapi3.SchemaRef{Value: status}),
	}, secNone)
	add(doc, "/readyz", http.MethodGet, &openapi3.Operation{
		Tags:        []string{"probe"},
		Summary:     "Readiness probe; pings the assignment store",
		OperationID: "readyz",
		Responses:   newResponses("200", "Store reachable", &openapi3.SchemaRef{Value: status}),
	}, secNone)
}

func addAccessPaths(doc *openapi3.T) {
	checkBody := openapi3.NewObjectSchema().
		WithPropertyRef("principal", ref(schemaPrincipal)).
		WithProperty("resource", openapi3.NewStringSchema()).
		WithProperty("kind", kindSchema()).
		WithProperty("app", openapi3.NewStringSchema())
	checkBody.Required = []string{"resource"}

	add(doc, "/api/v1/access/check", http.MethodPost, &openapi3.Operation{
		Tags:        []string{"access"},
		Summary:     "Decide access for a caller-supplied principal",
		OperationID: "checkAccess",
		RequestBody: jsonBody("Principal and resource to check", &openapi3.SchemaRef{Value: checkBody}),
		Responses:   newResponses("200", "Access decision", ref(schemaCheck)),
	}, secAPIKey)

	add(doc, "/api/v1/access/me", http.MethodGet, &openapi3.Operation{
		Tags:        []string{"access"},
		Summary:     "Decide access for the principal of the request",
		OperationID: "checkMyAccess",
		Parameters: openapi3.Parameters{
			query("resource", "View name or template flag. Omit to return the principal only.", openapi3.NewStringSchema()),
			query("kind", "Resource kind.", kindSchema()),
			query("app", "Application the view belongs to.", openapi3.NewStringSchema()),
		},
		Responses: newResponses("200", "Access decision", ref(schemaCheck)),
	}, secPrincipal)

	fwd := newResponses("200", "Allowed", nil)
	forbidden := "Denied"
	fwd.Set("403", &openapi3.ResponseRef{Value: &openapi3.Response{Description: &forbidden}})
	redirect := "Denied, redirect to login"
	fwd.Set("302", &openapi3.ResponseRef{Value: &openapi3.Response{Description: &redirect}})
	add(doc, "/api/v1/access/forward-auth", http.MethodGet, &openapi3.Operation{
		Tags:        []string{"access"},
		Summary:     "Forward-auth endpoint for reverse proxies",
		Description: "Resolves X-Forwarded-Method and X-Forwarded-Uri through the route table and checks the forwarded principal.",
		OperationID: "forwardAuth",
		Parameters: openapi3.Parameters{
			header(HeaderForwardedMethod, false),
			header(HeaderForwardedURI, true),
		},
		Responses: fwd,
	}, secAPIKey)
}

// Forward-auth headers, duplicated here to keep the package free of handler
// imports.
const (
	HeaderForwardedMethod = "X-Forwarded-Method"
	HeaderForwardedURI    = "X-Forwarded-Uri"
)

func addSystemPaths(doc *openapi3.T) {
	login := openapi3.NewObjectSchema().
		WithProperty("email", openapi3.NewStringSchema()).
		WithProperty("password", openapi3.NewStringSchema().WithFormat("password"))
	session := openapi3.NewObjectSchema().
		WithProperty("session_token", openapi3.NewStringSchema()).
		WithProperty("token_type", openapi3.NewStringSchema()).
		WithProperty("expires_in", openapi3.NewIntegerSchema()).
		WithProperty("admin_id", openapi3.NewUUIDSchema()).
		WithProperty("email", openapi3.NewStringSchema()).
		WithProperty("name", openapi3.NewStringSchema())
	add(doc, "/api/v1/system/admin/session", http.MethodPost, &openapi3.Operation{
		Tags:        []string{"session"},
		Summary:     "Log in as an admin",
		OperationID: "login",
		RequestBody: jsonBody("Admin credentials", &openapi3.SchemaRef{Value: login}),
		Responses:   newResponses("200", "Session token", &openapi3.SchemaRef{Value: session}),
	}, secNone)
	add(doc, "/api/v1/system/admin/session", http.MethodDelete, &openapi3.Operation{
		Tags:        []string{"session"},
		Summary:     "Log out",
		OperationID: "logout",
		Responses:   newResponses("200", "Logged out", nil),
	}, secAdmin)

	// Assignments
	add(doc, "/api/v1/system/assignments", http.MethodGet, &openapi3.Operation{
		Tags:        []string{"assignments"},
		Summary:     "List role assignments",
		OperationID: "listAssignments",
		Parameters: openapi3.Parameters{
			query("kind", "Only assignments of this kind.", kindSchema()),
			query("role", "Only assignments granting this role.", openapi3.NewStringSchema()),
			query("enabled_only", "Only enforced assignments.", openapi3.NewBoolSchema()),
			query("limit", "Maximum number of assignments returned.", openapi3.NewInt32Schema()),
			query("offset", "Number of assignments skipped.", openapi3.NewInt32Schema()),
		},
		Responses: newResponses("200", "Assignments", listOf(ref(schemaAssignment))),
	}, secAdmin)
	add(doc, "/api/v1/system/assignments", http.MethodPost, &openapi3.Operation{
		Tags:        []string{"assignments"},
		Summary:     "Create a role assignment",
		OperationID: "createAssignment",
		RequestBody: jsonBody("Assignment", ref(schemaAssignment)),
		Responses:   withConflict(newResponses("201", "Created assignment", ref(schemaAssignment))),
	}, secAdmin)

	yamlBody := &openapi3.SchemaRef{Value: openapi3.NewStringSchema()}
	add(doc, "/api/v1/system/assignments/export", http.MethodGet, &openapi3.Operation{
		Tags:        []string{"assignments"},
		Summary:     "Export every assignment as YAML",
		OperationID: "exportAssignments",
		Responses:   yamlResponse("Assignment file", yamlBody),
	}, secAdmin)
	add(doc, "/api/v1/system/assignments/import", http.MethodPost, &openapi3.Operation{
		Tags:        []string{"assignments"},
		Summary:     "Upsert assignments from a YAML file",
		OperationID: "importAssignments",
		RequestBody: &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
			WithRequired(true).
			WithContent(openapi3.NewContentWithSchemaRef(yamlBody, []string{"application/yaml"}))},
		Responses: newResponses("200", "Import counts", ref(schemaImportCount)),
	}, secAdmin)

	idParam := openapi3.Parameters{path("id")}
	add(doc, "/api/v1/system/assignments/{id}", http.MethodGet, &openapi3.Operation{
		Tags:        []string{"assignments"},
		Summary:     "Get a role assignment",
		OperationID: "getAssignment",
		Parameters:  idParam,
		Responses:   newResponses("200", "Assignment", ref(schemaAssignment)),
	}, secAdmin)
	add(doc, "/api/v1/system/assignments/{id}", http.MethodPut, &openapi3.Operation{
		Tags:        []string{"assignments"},
		Summary:     "Replace a role assignment",
		OperationID: "updateAssignment",
		Parameters:  idParam,
		RequestBody: jsonBody("Assignment", ref(schemaAssignment)),
		Responses:   withConflict(newResponses("200", "Updated assignment", ref(schemaAssignment))),
	}, secAdmin)
	add(doc, "/api/v1/system/assignments/{id}", http.MethodDelete, &openapi3.Operation{
		Tags:        []string{"assignments"},
		Summary:     "Delete a role assignment",
		OperationID: "deleteAssignment",
		Parameters:  idParam,
		Responses:   newResponses("200", "Deleted", nil),
	}, secAdmin)

	roles := openapi3.NewObjectSchema().WithProperty("roles", stringArray())
	add(doc, "/api/v1/system/assignments/{id}/roles", http.MethodPut, &openapi3.Operation{
		Tags:        []string{"assignments"},
		Summary:     "Replace the roles of an assignment",
		OperationID: "setAssignmentRoles",
		Parameters:  idParam,
		RequestBody: jsonBody("Roles", &openapi3.SchemaRef{Value: roles}),
		Responses:   newResponses("200", "Updated assignment", ref(schemaAssignment)),
	}, secAdmin)
	for _, action := range []string{"enable", "disable"} {
		add(doc, "/api/v1/system/assignments/{id}/"+action, http.MethodPost, &openapi3.Operation{
			Tags:        []string{"assignments"},
			Summary:     capitalize(action) + " enforcement of an assignment",
			OperationID: action + "Assignment",
			Parameters:  idParam,
			Responses:   newResponses("200", "Enforcement state", nil),
		}, secAdmin)
	}

	// Roles and memberships
	name := openapi3.NewObjectSchema().WithProperty("name", openapi3.NewStringSchema())
	add(doc, "/api/v1/system/roles", http.MethodGet, &openapi3.Operation{
		Tags:        []string{"members"},
		Summary:     "List every role named by an assignment or membership",
		OperationID: "listRoles",
		Responses:   newResponses("200", "Role catalogue", listOf(&openapi3.SchemaRef{Value: name})),
	}, secAdmin)
	add(doc, "/api/v1/system/members", http.MethodGet, &openapi3.Operation{
		Tags:        []string{"members"},
		Summary:     "List memberships",
		OperationID: "listMemberships",
		Parameters:  openapi3.Parameters{query("role", "Only members of this role.", openapi3.NewStringSchema())},
		Responses:   newResponses("200", "Memberships", listOf(ref(schemaMembership))),
	}, secAdmin)
	memberRoles := openapi3.NewObjectSchema().
		WithProperty("subject", openapi3.NewStringSchema()).
		WithProperty("roles", stringArray())
	add(doc, "/api/v1/system/members/{subject}", http.MethodGet, &openapi3.Operation{
		Tags:        []string{"members"},
		Summary:     "Roles of one subject",
		OperationID: "memberRoles",
		Parameters:  openapi3.Parameters{path("subject")},
		Responses:   newResponses("200", "Member roles", &openapi3.SchemaRef{Value: memberRoles}),
	}, secAdmin)
	grant := openapi3.NewObjectSchema().WithProperty("role", openapi3.NewStringSchema())
	add(doc, "/api/v1/system/members/{subject}/roles", http.MethodPost, &openapi3.Operation{
		Tags:        []string{"members"},
		Summary:     "Grant a role to a subject",
		OperationID: "grantRole",
		Parameters:  openapi3.Parameters{path("subject")},
		RequestBody: jsonBody("Role", &openapi3.SchemaRef{Value: grant}),
		Responses:   newResponses("201", "Membership", ref(schemaMembership)),
	}, secAdmin)
	add(doc, "/api/v1/system/members/{subject}/roles/{role}", http.MethodDelete, &openapi3.Operation{
		Tags:        []string{"members"},
		Summary:     "Revoke a role from a subject",
		OperationID: "revokeRole",
		Parameters:  openapi3.Parameters{path("subject"), path("role")},
		Responses:   newResponses("200", "Revoked", nil),
	}, secAdmin)

	// Admins and API keys
	add(doc, "/api/v1/system/admin", http.MethodGet, &openapi3.Operation{
		Tags:        []string{"admin"},
		Summary:     "List admins",
		OperationID: "listAdmins",
		Responses:   newResponses("200", "Admins", listOf(ref(schemaAdmin))),
	}, secAdmin)
	newAdmin := openapi3.NewObjectSchema().
		WithProperty("email", openapi3.NewStringSchema().WithFormat("email")).
		WithProperty("password", openapi3.NewStringSchema().WithFormat("password")).
		WithProperty("name", openapi3.NewStringSchema())
	add(doc, "/api/v1/system/admin", http.MethodPost, &openapi3.Operation{
		Tags:        []string{"admin"},
		Summary:     "Create an admin",
		OperationID: "createAdmin",
		RequestBody: jsonBody("Admin", &openapi3.SchemaRef{Value: newAdmin}),
		Responses:   withConflict(newResponses("201", "Created admin", ref(schemaAdmin))),
	}, secAdmin)
	add(doc, "/api/v1/system/api-key", http.MethodGet, &openapi3.Operation{
		Tags:        []string{"admin"},
		Summary:     "List API keys",
		OperationID: "listAPIKeys",
		Responses:   newResponses("200", "API keys", listOf(ref(schemaAPIKey))),
	}, secAdmin)
	newKey := openapi3.NewObjectSchema().
		WithProperty("label", openapi3.NewStringSchema()).
		WithProperty("expires_in", openapi3.NewStringSchema())
	created := openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewUUIDSchema()).
		WithProperty("api_key", openapi3.NewStringSchema()).
		WithProperty("key_prefix", openapi3.NewStringSchema()).
		WithProperty("label", openapi3.NewStringSchema())
	add(doc, "/api/v1/system/api-key", http.MethodPost, &openapi3.Operation{
		Tags:        []string{"admin"},
		Summary:     "Create an API key; the plaintext key is returned once",
		OperationID: "createAPIKey",
		RequestBody: jsonBody("API key", &openapi3.SchemaRef{Value: newKey}),
		Responses:   newResponses("201", "Created API key", &openapi3.SchemaRef{Value: created}),
	}, secAdmin)
	add(doc, "/api/v1/system/api-key/{keyId}", http.MethodDelete, &openapi3.Operation{
		Tags:        []string{"admin"},
		Summary:     "Revoke an API key",
		OperationID: "revokeAPIKey",
		Parameters:  openapi3.Parameters{path("keyId")},
		Responses:   newResponses("200", "Revoked", nil),
	}, secAdmin)

	// Cache and MCP
	cacheStats := openapi3.NewObjectSchema().
		WithProperty("enabled", openapi3.NewBoolSchema()).
		WithProperty("stats", openapi3.NewObjectSchema().
			WithProperty("size", openapi3.NewInt32Schema()).
			WithProperty("max_size", openapi3.NewInt32Schema()).
			WithProperty("hits", openapi3.NewInt64Schema()).
			WithProperty("misses", openapi3.NewInt64Schema()).
			WithProperty("hit_rate", openapi3.NewFloat64Schema()))
	add(doc, "/api/v1/system/cache", http.MethodGet, &openapi3.Operation{
		Tags:        []string{"admin"},
		Summary:     "Assignment cache statistics",
		OperationID: "cacheStats",
		Responses:   newResponses("200", "Cache statistics", &openapi3.SchemaRef{Value: cacheStats}),
	}, secAdmin)
	add(doc, "/api/v1/system/cache", http.MethodDelete, &openapi3.Operation{
		Tags:        []string{"admin"},
		Summary:     "Purge the assignment cache",
		OperationID: "purgeCache",
		Responses:   newResponses("204", "Purged", nil),
	}, secAdmin)
	mcpInfo := openapi3.NewObjectSchema().
		WithProperty("server_name", openapi3.NewStringSchema()).
		WithProperty("server_version", openapi3.NewStringSchema()).
		WithProperty("mcp_endpoint", openapi3.NewStringSchema()).
		WithProperty("transports", stringArray())
	add(doc, "/api/v1/system/mcp", http.MethodGet, &openapi3.Operation{
		Tags:        []string{"admin"},
		Summary:     "MCP server tools, resources and transports",
		OperationID: "mcpInfo",
		Responses:   newResponses("200", "MCP server info", &openapi3.SchemaRef{Value: mcpInfo}),
	}, secAdmin)
}

// add attaches op to the path item for path, creating it on first use.
func add(doc *openapi3.T, path, method string, op *openapi3.Operation, sec security) {
	switch sec {
	case secNone:
		op.Security = &openapi3.SecurityRequirements{}
	case secAPIKey:
		op.Security = &openapi3.SecurityRequirements{{"apiKey": {}}}
	case secAdmin:
		op.Security = &openapi3.SecurityRequirements{{"bearerAuth": {}}}
	case secPrincipal:
		op.Security = &openapi3.SecurityRequirements{{"principalToken": {}}}
	}

	item := doc.Paths.Value(path)
	if item == nil {
		item = &openapi3.PathItem{}
		doc.Paths.Set(path, item)
	}
	item.SetOperation(method, op)
}

// ─── Parameter and Body Helpers ─────────────────────────────────────────────

func query(name, description string, schema *openapi3.Schema) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: openapi3.NewQueryParameter(name).
			WithDescription(description).
			WithSchema(schema),
	}
}

func path(name string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: openapi3.NewPathParameter(name).WithSchema(openapi3.NewStringSchema()),
	}
}

func header(name string, required bool) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: openapi3.NewHeaderParameter(name).
			WithRequired(required).
			WithSchema(openapi3.NewStringSchema()),
	}
}

func jsonBody(description string, schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: openapi3.NewRequestBody().
			WithDescription(description).
			WithRequired(true).
			WithJSONSchemaRef(schema),
	}
}

// ─── Response Helpers ───────────────────────────────────────────────────────

// newResponses builds a Responses map with a success response and standard
// error responses. A nil schema yields a generic object body.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()
	if schema == nil {
		schema = &openapi3.SchemaRef{Value: openapi3.NewObjectSchema()}
	}

	// Success response
	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	// Standard error responses
	for code, desc := range map[string]string{
		"400": "Bad request",
		"401": "Unauthorized",
		"404": "Not found",
		"500": "Internal server error",
		"503": "Assignment store unavailable",
	} {
		responses.Set(code, errorResponse(desc))
	}
	return responses
}

func withConflict(responses *openapi3.Responses) *openapi3.Responses {
	responses.Set("409", errorResponse("Already exists"))
	return responses
}

func yamlResponse(description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()
	responses.Set("200", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &description,
			Content:     openapi3.NewContentWithSchemaRef(schema, []string{"application/yaml"}),
		},
	})
	responses.Set("500", errorResponse("Internal server error"))
	return responses
}

func errorResponse(description string) *openapi3.ResponseRef {
	errorRef := ref(schemaError)
	return &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &description,
			Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
		},
	}
}

// capitalize returns a string with its first character uppercased.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
