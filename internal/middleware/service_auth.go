package middleware

import (
	"github.com/gemxhub/backend/internal/apperror"
	"github.com/gemxhub/backend/internal/config"
	"github.com/gemxhub/backend/internal/utils"
	"github.com/gin-gonic/gin"
)

const (
	HeaderAPIKey      = "X-API-Key"
	HeaderServiceName = "X-Service-Name"

	contextServiceIdentity = "service_identity"
)

// ServiceIdentity is the authenticated caller of an internal endpoint
type ServiceIdentity struct {
	Name        string
	Permissions map[string]bool
}

// Can reports whether the service holds perm
func (s ServiceIdentity) Can(perm string) bool {
	return s.Permissions[perm]
}

// ServiceAuthMiddleware authenticates service-to-service calls against the registry
func ServiceAuthMiddleware(registry config.ServiceRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(HeaderAPIKey)
		name := c.GetHeader(HeaderServiceName)
		if apiKey == "" || name == "" {
			utils.RespondError(c, apperror.Unauthorized("service credentials required"))
			return
		}

		cred, ok := registry.Lookup(name)
		if !ok || !utils.SecureCompare(apiKey, cred.APIKey) {
			utils.RespondError(c, apperror.Unauthorized("invalid service credentials"))
			return
		}

		c.Set(contextServiceIdentity, ServiceIdentity{Name: name, Permissions: cred.Permissions})
		c.Next()
	}
}

// RequireServicePermission rejects services that lack perm
func RequireServicePermission(perm string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := CurrentService(c)
		if !ok {
			utils.RespondError(c, apperror.Unauthorized("service credentials required"))
			return
		}
		if !identity.Can(perm) {
			utils.RespondError(c, apperror.Forbidden("service "+identity.Name+" lacks permission "+perm))
			return
		}
		c.Next()
	}
}

// CurrentService returns the identity set by ServiceAuthMiddleware
func CurrentService(c *gin.Context) (ServiceIdentity, bool) {
	v, ok := c.Get(contextServiceIdentity)
	if !ok {
		return ServiceIdentity{}, false
	}
	identity, ok := v.(ServiceIdentity)
	return identity, ok
}
