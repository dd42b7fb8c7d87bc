package openapi

import "github.com/getkin/kin-openapi/openapi3"

// Component schema names.
const (
	schemaError       = "ErrorResponse"
	schemaAssignment  = "RoleAssignment"
	schemaPrincipal   = "Principal"
	schemaDecision    = "Decision"
	schemaCheck       = "CheckResponse"
	schemaMembership  = "Membership"
	schemaAPIKey      = "APIKey"
	schemaAdmin       = "Admin"
	schemaImportCount = "ImportResult"
)

// reasons lists every decision reason the engine reports.
var reasons = []interface{}{
	"no_assignment", "enforcement_disabled", "role_matched", "no_matching_role",
	"app_not_secured", "app_disabled", "app_public", "app_secured",
	"not_authenticated", "superuser",
	"access_public", "access_authenticated", "access_anonymous",
}

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

func stringArray() *openapi3.Schema {
	return openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())
}

func kindSchema() *openapi3.Schema {
	return openapi3.NewStringSchema().WithEnum("view", "template")
}

func accessSchema() *openapi3.Schema {
	return openapi3.NewStringSchema().WithEnum("by_role", "public", "authenticated")
}

func dateTime() *openapi3.Schema {
	return openapi3.NewDateTimeSchema()
}

// componentSchemas returns the schemas of every roleguard API object.
func componentSchemas() openapi3.Schemas {
	errorDetail := openapi3.NewObjectSchema().
		WithProperty("code", openapi3.NewInt32Schema()).
		WithProperty("message", openapi3.NewStringSchema()).
		WithProperty("context", openapi3.NewObjectSchema())

	assignment := openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewUUIDSchema()).
		WithProperty("resource", openapi3.NewStringSchema().WithMaxLength(255)).
		WithProperty("kind", kindSchema()).
		WithProperty("access", accessSchema()).
		WithProperty("roles", stringArray()).
		WithProperty("enabled", openapi3.NewBoolSchema()).
		WithProperty("description", openapi3.NewStringSchema()).
		WithProperty("created_at", dateTime()).
		WithProperty("updated_at", dateTime())
	assignment.Required = []string{"resource", "kind", "roles", "enabled"}

	principal := openapi3.NewObjectSchema().
		WithProperty("subject", openapi3.NewStringSchema()).
		WithProperty("roles", stringArray()).
		WithProperty("authenticated", openapi3.NewBoolSchema()).
		WithProperty("superuser", openapi3.NewBoolSchema())

	decision := openapi3.NewObjectSchema().
		WithProperty("allowed", openapi3.NewBoolSchema()).
		WithProperty("reason", openapi3.NewStringSchema().WithEnum(reasons...)).
		WithProperty("resource", openapi3.NewStringSchema()).
		WithProperty("kind", kindSchema())
	decision.Properties["assignment"] = ref(schemaAssignment)
	decision.Required = []string{"allowed", "reason"}

	check := openapi3.NewObjectSchema()
	check.Properties["principal"] = ref(schemaPrincipal)
	check.Properties["decision"] = ref(schemaDecision)

	membership := openapi3.NewObjectSchema().
		WithProperty("subject", openapi3.NewStringSchema()).
		WithProperty("role", openapi3.NewStringSchema()).
		WithProperty("created_at", dateTime())

	apiKey := openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewUUIDSchema()).
		WithProperty("key_prefix", openapi3.NewStringSchema()).
		WithProperty("label", openapi3.NewStringSchema()).
		WithProperty("is_active", openapi3.NewBoolSchema()).
		WithProperty("expires_at", dateTime()).
		WithProperty("created_at", dateTime()).
		WithProperty("last_used", dateTime())

	admin := openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewUUIDSchema()).
		WithProperty("email", openapi3.NewStringSchema().WithFormat("email")).
		WithProperty("name", openapi3.NewStringSchema()).
		WithProperty("is_active", openapi3.NewBoolSchema()).
		WithProperty("last_login_at", dateTime()).
		WithProperty("created_at", dateTime()).
		WithProperty("updated_at", dateTime())

	imported := openapi3.NewObjectSchema().
		WithProperty("created", openapi3.NewIntegerSchema()).
		WithProperty("updated", openapi3.NewIntegerSchema())

	return openapi3.Schemas{
		schemaError:       openapi3.NewSchemaRef("", openapi3.NewObjectSchema().WithProperty("error", errorDetail)),
		schemaAssignment:  openapi3.NewSchemaRef("", assignment),
		schemaPrincipal:   openapi3.NewSchemaRef("", principal),
		schemaDecision:    openapi3.NewSchemaRef("", decision),
		schemaCheck:       openapi3.NewSchemaRef("", check),
		schemaMembership:  openapi3.NewSchemaRef("", membership),
		schemaAPIKey:      openapi3.NewSchemaRef("", apiKey),
		schemaAdmin:       openapi3.NewSchemaRef("", admin),
		schemaImportCount: openapi3.NewSchemaRef("", imported),
	}
}

// listOf wraps item in the {"resource": [...], "meta": {...}} envelope.
func listOf(item *openapi3.SchemaRef) *openapi3.SchemaRef {
	s := openapi3.NewObjectSchema()
	s.Properties["resource"] = &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:  &openapi3.Types{"array"},
		Items: item,
	}}
	s.Properties["meta"] = metaSchema()
	return &openapi3.SchemaRef{Value: s}
}

// metaSchema returns the schema for the "meta" field in list responses.
func metaSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"count": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:        &openapi3.Types{"integer"},
						Format:      "int64",
						Description: "Total number of records matching the query.",
					},
				},
			},
		},
	}
}
