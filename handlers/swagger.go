package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the auth service.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>bandmate-auth - Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

// Minimal OpenAPI document describing the auth endpoints.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "bandmate-auth", "version": "v0.1.0" },
  "paths": {
    "/auth/register": {
      "post": {
        "summary": "Register a new account",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"email":{"type":"string"},"password":{"type":"string"},"name":{"type":"string"}}}}}},
        "responses": { "201": { "description": "user created" }, "400": { "description": "invalid input or email taken" } }
      }
    },
    "/auth/login": {
      "post": {
        "summary": "Login with email and password",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"email":{"type":"string"},"password":{"type":"string"}}}}}},
        "responses": { "200": { "description": "tokens set as cookies, access token returned" }, "401": { "description": "invalid credentials" } }
      }
    },
    "/auth/refresh": {
      "post": { "summary": "Rotate the refresh token and mint a new access token", "responses": { "200": { "description": "new access token" }, "401": { "description": "invalid refresh token" } } }
    },
    "/auth/logout": {
      "post": { "summary": "Logout and revoke the current refresh token", "responses": { "200": { "description": "logged out" } } }
    },
    "/auth/logout-all": {
      "post": { "summary": "Revoke every session on every device", "responses": { "200": { "description": "logged out everywhere" } } }
    },
    "/auth/me": {
      "get": { "summary": "Get the authenticated identity", "responses": { "200": { "description": "identity" }, "401": { "description": "not authenticated" } } }
    },
    "/api/v1/users": {
      "get": { "summary": "List users (admin)", "responses": { "200": { "description": "users" }, "403": { "description": "requires admin role" } } }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } }
  }
}`
