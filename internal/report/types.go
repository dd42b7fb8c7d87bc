// Package report audits the access protection of every route of a site:
// how the app is classified, whether a guard covers the view, and what the
// stored role assignment means for it.
package report

import (
	"time"

	"github.com/faucetdb/roleguard/internal/access"
)

// UndefinedApp names the group of routes that carry no app.
const UndefinedApp = "Undefined app"

// Status classifies the analysis of a view.
type Status string

const (
	StatusNormal  Status = "Normal"
	StatusWarning Status = "Warning"
	StatusError   Status = "Error"
)

// ViewReport is the analysis of one routed view.
type ViewReport struct {
	View        string `json:"view"`
	URL         string `json:"url"`
	Decorated   bool   `json:"decorated"`
	Enforced    bool   `json:"enforced"`
	Status      Status `json:"status"`
	Description string `json:"description"`
}

// AppReport groups the views of one application.
type AppReport struct {
	Name           string                `json:"name"`
	Classification access.Classification `json:"classification"`
	Views          []ViewReport          `json:"views"`
}

// Report is the access audit of a whole site.
type Report struct {
	GeneratedAt      time.Time   `json:"generated_at"`
	MiddlewareActive bool        `json:"middleware_active"`
	Apps             []AppReport `json:"apps"`
	Errors           int         `json:"errors"`
	Warnings         int         `json:"warnings"`
}

// typeName is the classification as printed in reports.
func typeName(c access.Classification) string {
	if c == access.ClassNone {
		return "no type"
	}
	return string(c)
}
