package handlers

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates returns the HTML pages served by the handlers
func Templates() *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/*.html"))
}

// PageHandler serves the small browser pages
type PageHandler struct {
	optionSets []string
}

// NewPageHandler creates a new page handler. optionSets are offered as links on the index page.
func NewPageHandler(optionSets []string) *PageHandler {
	return &PageHandler{optionSets: optionSets}
}

// Index greets the signed-in user
// @Router / [get]
func (h *PageHandler) Index(c *gin.Context) {
	subject, _ := c.Get("subject")
	c.HTML(http.StatusOK, "index.html", gin.H{
		"Subject":    subject,
		"OptionSets": h.optionSets,
	})
}

// Error shows a message passed by a failed login
// @Param message query string false "Message to display"
// @Router /error [get]
func (h *PageHandler) Error(c *gin.Context) {
	message := c.Query("message")
	if message == "" {
		message = "An unknown error occurred."
	}
	c.HTML(http.StatusBadRequest, "error.html", gin.H{"Message": message})
}
