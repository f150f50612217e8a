package webui

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sagarmatha/pkg/config"
)

// SecretEntry represents a secret for the API response (name only, no value).
type SecretEntry struct {
	Name string `json:"name"`
}

// handleSecretsList implements GET /api/secrets. Values are never returned.
func (s *Server) handleSecretsList(c *gin.Context) {
	names := config.GetDecryptedSecretNames()
	entries := make([]SecretEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, SecretEntry{Name: name})
	}
	c.JSON(http.StatusOK, entries)
}

// handleSecretsSet implements POST /api/secrets.
func (s *Server) handleSecretsSet(c *gin.Context) {
	var req struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, "Invalid JSON", nil)
		return
	}
	if req.Name == "" {
		s.fail(c, http.StatusBadRequest, "Secret name is required", nil)
		return
	}
	if req.Value == "" {
		s.fail(c, http.StatusBadRequest, "Secret value is required", nil)
		return
	}
	if sanitizeSecretName(req.Name) != req.Name {
		s.fail(c, http.StatusBadRequest, "Secret name must contain only alphanumeric characters and underscores", nil)
		return
	}

	config.SetSecret(req.Name, req.Value)
	s.persistSecrets()

	s.logger.Info("Secret %q set", req.Name)
	c.JSON(http.StatusOK, gin.H{"success": true, "name": req.Name})
}

// handleSecretsDelete implements DELETE /api/secrets/:name.
func (s *Server) handleSecretsDelete(c *gin.Context) {
	name := c.Param("name")
	if sanitizeSecretName(name) != name || name == "" {
		s.fail(c, http.StatusBadRequest, "Invalid secret name", nil)
		return
	}

	config.DeleteSecret(name)
	s.persistSecrets()

	s.logger.Info("Secret %q deleted", name)
	c.JSON(http.StatusOK, gin.H{"success": true, "name": name})
}

// persistSecrets writes the in-memory secrets to the encrypted file. A failure leaves
// the in-memory change in place.
func (s *Server) persistSecrets() {
	if s.opts.SecretsPassword == "" || s.opts.SecretsDir == "" {
		s.logger.Warn("No secrets password set - secrets kept in memory only")
		return
	}
	if err := config.SaveSecretsToFile(s.opts.SecretsDir, s.opts.SecretsPassword); err != nil {
		s.logger.Error("Failed to persist secrets: %v", err)
	}
}

// sanitizeSecretName keeps only alphanumerics and underscores.
func sanitizeSecretName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			out = append(out, r)
		}
	}
	return string(out)
}
