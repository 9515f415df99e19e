package controllers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const maxBodyBytes = 1 << 20

// bindJSON decodes the request body into dst with numbers kept as
// json.Number. An empty body leaves dst untouched. It writes the 400 itself.
func bindJSON(c *gin.Context, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		badRequest(c, "invalid body")
		return false
	}
	if len(body) > maxBodyBytes {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large", "code": "invalid_input"})
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		badRequest(c, "invalid body: trailing data")
		return false
	}
	return true
}

func badRequest(c *gin.Context, msg string) {
	c.Set("error_code", "invalid_input")
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "code": "invalid_input"})
}
