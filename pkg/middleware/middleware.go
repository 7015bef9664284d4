package middleware

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/oddslab/tradegate/pkg/response"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	visitors = make(map[string]*visitor)
	mu       sync.RWMutex

	// Configure limits per endpoint type
	authLimit     = rate.Limit(10.0 / 60.0)   // 10 requests per minute
	controlLimit  = rate.Limit(60.0 / 60.0)   // 60 requests per minute
	readOnlyLimit = rate.Limit(1000.0 / 60.0) // 1000 requests per minute
)

// jwtSecret is shared with the auth service; overridable for deployments.
var jwtSecret = []byte("tradegate-secret-key")

// SetJWTSecret overrides the secret used to validate tokens.
func SetJWTSecret(secret string) {
	jwtSecret = []byte(secret)
}

// Cleanup old visitors periodically
func init() {
	go cleanupVisitors()
}

func getLimiter(path, clientID string) *rate.Limiter {
	mu.Lock()
	defer mu.Unlock()

	key := clientID + ":" + path
	v, exists := visitors[key]

	if !exists {
		var limit rate.Limit
		switch {
		case strings.HasPrefix(path, "/api/v1/auth"):
			limit = authLimit
		case strings.HasPrefix(path, "/api/v1/controls"),
			strings.HasPrefix(path, "/api/v1/strategies"),
			strings.HasPrefix(path, "/api/v1/executor"):
			limit = controlLimit
		case strings.HasPrefix(path, "/api/v1/orders"),
			strings.HasPrefix(path, "/api/v1/markets"):
			limit = readOnlyLimit
		default:
			limit = rate.Inf // No limit for other paths
		}

		v = &visitor{
			limiter:  rate.NewLimiter(limit, 1), // burst of 1
			lastSeen: time.Now(),
		}
		visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		mu.Lock()
		for key, v := range visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(visitors, key)
			}
		}
		mu.Unlock()
	}
}

// RateLimit enforces the per-client, per-path request limits.
func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("clientID")
		if clientID == "" {
			clientID = c.ClientIP()
		}

		limiter := getLimiter(c.FullPath(), clientID)
		if !limiter.Allow() {
			response.BadRequest(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// JWTAuth validates the bearer token and loads its claims into the context.
func JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := validateAndExtractClaims(c)
		if err != nil {
			return
		}

		// Set individual claims in the context
		for key, value := range claims {
			c.Set(key, value)
		}

		// Also set the full claims object and explicit client_id
		c.Set("claims", claims)
		if clientID, ok := claims["client_id"].(string); ok {
			c.Set("clientID", clientID)
		}

		c.Next()
	}
}

// OperatorAuth protects control-plane endpoints (kill switches, strategy
// config, executor runs). It requires a valid token carrying the "operate"
// permission.
func OperatorAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := validateAndExtractClaims(c)
		if err != nil {
			return
		}

		perms, ok := claims["permissions"].([]interface{})
		if !ok {
			response.Forbidden(c, "Operator permission required")
			c.Abort()
			return
		}

		allowed := false
		for _, p := range perms {
			if s, ok := p.(string); ok && s == "operate" {
				allowed = true
				break
			}
		}
		if !allowed {
			response.Forbidden(c, "Operator permission required")
			c.Abort()
			return
		}

		if clientID, ok := claims["client_id"].(string); ok {
			c.Set("clientID", clientID)
		}
		c.Next()
	}
}

func validateAndExtractClaims(c *gin.Context) (jwt.MapClaims, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		response.Unauthorized(c, "Authorization header required")
		c.Abort()
		return nil, fmt.Errorf("authorization header required")
	}

	bearerToken := strings.Split(authHeader, " ")
	if len(bearerToken) != 2 || strings.ToLower(bearerToken[0]) != "bearer" {
		response.Unauthorized(c, "Invalid authorization header format")
		c.Abort()
		return nil, fmt.Errorf("invalid authorization header format")
	}

	tokenString := bearerToken[1]
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})

	if err != nil {
		response.Unauthorized(c, "Invalid token")
		c.Abort()
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		response.Unauthorized(c, "Invalid token claims")
		c.Abort()
		return nil, fmt.Errorf("invalid token claims")
	}

	// Ensure required claims exist
	requiredClaims := []string{"client_id", "exp"}
	for _, claim := range requiredClaims {
		if _, exists := claims[claim]; !exists {
			response.Unauthorized(c, fmt.Sprintf("Missing required claim: %s", claim))
			c.Abort()
			return nil, fmt.Errorf("missing required claim: %s", claim)
		}
	}

	return claims, nil
}
