package webui

import (
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"sagarmatha/pkg/config"
)

// userKey is the gin context key holding the signed-in user id.
const userKey = "user"

// SessionResolver maps a request to a signed-in user id.
type SessionResolver interface {
	Resolve(r *http.Request) (userID string, ok bool)
}

// TokenResolver resolves bearer tokens, from the Authorization header or the
// __session cookie, against a token → user table.
type TokenResolver struct {
	lookup func() map[string]string
}

// NewTokenResolver resolves against the SAGARMATHA_API_TOKENS secret, re-read on every
// request so tokens set through the secrets API apply immediately.
func NewTokenResolver() *TokenResolver {
	return &TokenResolver{lookup: config.GetAPITokens}
}

// NewStaticTokenResolver resolves against a fixed table.
func NewStaticTokenResolver(tokens map[string]string) *TokenResolver {
	return &TokenResolver{lookup: func() map[string]string { return tokens }}
}

// Resolve implements SessionResolver.
func (t *TokenResolver) Resolve(r *http.Request) (string, bool) {
	token := ""
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	} else if cookie, err := r.Cookie("__session"); err == nil {
		token = cookie.Value
	}
	if token == "" {
		return "", false
	}
	user, ok := t.lookup()[token]
	return user, ok
}

// RoutePolicy decides which routes need a session.
type RoutePolicy struct {
	public          []*regexp.Regexp
	authPages       []*regexp.Regexp
	signInPath      string
	afterSignInPath string
}

// NewRoutePolicy compiles the route patterns of cfg. Patterns match the whole path;
// "(.*)" matches any suffix.
func NewRoutePolicy(cfg config.AuthConfig) (*RoutePolicy, error) {
	publicRoutes := cfg.PublicRoutes
	if len(publicRoutes) == 0 {
		publicRoutes = config.DefaultPublicRoutes
	}
	authPages := cfg.AuthPages
	if len(authPages) == 0 {
		authPages = config.DefaultAuthPages
	}

	p := &RoutePolicy{
		signInPath:      cfg.SignInPath,
		afterSignInPath: cfg.AfterSignInPath,
	}
	if p.signInPath == "" {
		p.signInPath = config.DefaultSignInPath
	}
	if p.afterSignInPath == "" {
		p.afterSignInPath = config.DefaultAfterSignInPath
	}

	var err error
	if p.public, err = compileRoutes(publicRoutes); err != nil {
		return nil, err
	}
	if p.authPages, err = compileRoutes(authPages); err != nil {
		return nil, err
	}
	return p, nil
}

func compileRoutes(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile("^" + pattern + "$")
		if err != nil {
			return nil, err //nolint:wrapcheck // regexp errors name the pattern
		}
		out = append(out, re)
	}
	return out, nil
}

func matchAny(routes []*regexp.Regexp, p string) bool {
	for _, re := range routes {
		if re.MatchString(p) {
			return true
		}
	}
	return false
}

// IsPublic reports whether p is reachable without a session.
func (p *RoutePolicy) IsPublic(requestPath string) bool {
	return matchAny(p.public, requestPath)
}

// IsAuthPage reports whether p is a sign-in or sign-up page.
func (p *RoutePolicy) IsAuthPage(requestPath string) bool {
	return matchAny(p.authPages, requestPath)
}

// Applies reports whether the policy runs for p. Framework assets and paths with a
// file extension are skipped unless they are API routes.
func (p *RoutePolicy) Applies(requestPath string) bool {
	if isAPIPath(requestPath) {
		return true
	}
	if strings.HasPrefix(requestPath, "/_next/") {
		return false
	}
	return path.Ext(requestPath) == ""
}

func isAPIPath(p string) bool {
	return strings.HasPrefix(p, "/api") || strings.HasPrefix(p, "/trpc")
}

// Middleware enforces the policy. A nil resolver treats every request as signed out.
func (p *RoutePolicy) Middleware(resolver SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestPath := c.Request.URL.Path
		if !p.Applies(requestPath) {
			c.Next()
			return
		}

		var user string
		if resolver != nil {
			user, _ = resolver.Resolve(c.Request)
		}

		if user != "" && p.IsAuthPage(requestPath) {
			c.Redirect(http.StatusFound, p.afterSignInPath)
			c.Abort()
			return
		}

		if user == "" && !p.IsPublic(requestPath) {
			if isAPIPath(requestPath) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
				return
			}
			c.Redirect(http.StatusFound, p.signInPath+"?redirect_url="+url.QueryEscape(c.Request.URL.RequestURI()))
			c.Abort()
			return
		}

		if user != "" {
			c.Set(userKey, user)
		}
		c.Next()
	}
}

// requireSession rejects requests without a signed-in user, whether or not the
// route policy is installed.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(userKey); ok {
			c.Next()
			return
		}
		if s.deps.Sessions != nil {
			if user, ok := s.deps.Sessions.Resolve(c.Request); ok && user != "" {
				c.Set(userKey, user)
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	}
}
