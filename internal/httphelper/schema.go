package httphelper

import (
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// Endpoint describes one registered route for the generated OpenAPI document.
// Request and Response carry zero values of the body structs; their json tags
// drive the schema.
type Endpoint struct {
	Method      string
	Path        string
	Summary     string
	Request     any
	Response    any
	RequireAuth bool
	Permission  string
}

//nolint:gochecknoglobals
var (
	endpointMu sync.Mutex
	endpoints  []Endpoint
)

// RegisterEndpoint records a route in the schema registry. Handlers register
// themselves at route-setup time.
func RegisterEndpoint(endpoint Endpoint) {
	endpointMu.Lock()
	endpoints = append(endpoints, endpoint)
	endpointMu.Unlock()
}

func onGetSchema(siteName string, version string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, buildOpenAPI(siteName, version))
	}
}

func buildOpenAPI(siteName string, version string) map[string]any {
	endpointMu.Lock()
	defer endpointMu.Unlock()

	paths := map[string]any{}

	for _, endpoint := range endpoints {
		operation := map[string]any{
			"summary":   endpoint.Summary,
			"responses": responseSpec(endpoint),
		}

		if endpoint.RequireAuth {
			operation["security"] = []map[string]any{{"cookieAuth": map[string]any{}}, {"bearerAuth": map[string]any{}}}
		}

		if endpoint.Permission != "" {
			operation["x-required-permission"] = endpoint.Permission
		}

		if endpoint.Request != nil {
			operation["requestBody"] = map[string]any{
				"required": true,
				"content": map[string]any{
					"application/json": map[string]any{"schema": schemaOf(reflect.TypeOf(endpoint.Request))},
				},
			}
		}

		entry, exists := paths[openAPIPath(endpoint.Path)].(map[string]any)
		if !exists {
			entry = map[string]any{}
		}

		entry[strings.ToLower(endpoint.Method)] = operation
		paths[openAPIPath(endpoint.Path)] = entry
	}

	return map[string]any{
		"openapi": "3.0.3",
		"info":    map[string]any{"title": siteName + " API", "version": version},
		"paths":   paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"cookieAuth": map[string]any{"type": "apiKey", "in": "cookie", "name": "session"},
				"bearerAuth": map[string]any{"type": "http", "scheme": "bearer"},
			},
		},
	}
}

func responseSpec(endpoint Endpoint) map[string]any {
	success := map[string]any{"description": "Success"}

	if endpoint.Response != nil {
		success["content"] = map[string]any{
			"application/json": map[string]any{"schema": schemaOf(reflect.TypeOf(endpoint.Response))},
		}
	}

	return map[string]any{
		"200":     success,
		"default": map[string]any{"description": "Problem", "content": map[string]any{"application/problem+json": map[string]any{}}},
	}
}

// openAPIPath rewrites gin :param segments to {param}.
func openAPIPath(path string) string {
	segments := strings.Split(path, "/")
	for idx, segment := range segments {
		if strings.HasPrefix(segment, ":") {
			segments[idx] = "{" + segment[1:] + "}"
		}
	}

	return strings.Join(segments, "/")
}

func schemaOf(t reflect.Type) map[string]any {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.Kind() { //nolint:exhaustive
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Slice, reflect.Array:
		return map[string]any{"type": "array", "items": schemaOf(t.Elem())}
	case reflect.Map:
		return map[string]any{"type": "object"}
	case reflect.Struct:
		properties := map[string]any{}

		for idx := range t.NumField() {
			field := t.Field(idx)
			if !field.IsExported() {
				continue
			}

			name := strings.Split(field.Tag.Get("json"), ",")[0]
			if name == "-" || name == "" {
				continue
			}

			properties[name] = schemaOf(field.Type)
		}

		return map[string]any{"type": "object", "properties": properties}
	default:
		return map[string]any{}
	}
}
