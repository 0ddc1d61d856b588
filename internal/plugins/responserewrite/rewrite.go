// Package responserewrite overrides parts of the downstream response:
// status code, body and a set of headers rendered from templates against
// the plugin context.
package responserewrite

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"text/template"

	"github.com/wudi/apigate/internal/plugin"
	"github.com/wudi/apigate/internal/tmplutil"
)

func init() {
	plugin.Register("responseRewrite", func() plugin.Config { return new(RewriteConfig) })
}

// RewriteConfig configures the overrides. Header values are templates
// rendered against the context variables; an empty render skips the
// header.
type RewriteConfig struct {
	StatusCode *int              `json:"statusCode,omitempty"`
	Body       *string           `json:"body,omitempty"`
	BodyBase64 bool              `json:"bodyBase64,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// varRef matches bare `{{ name }}` references so configs can use the
// plain variable form; template keywords such as `{{ if }}` and anything
// more elaborate are left to the template engine as-is.
var varRef = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Create compiles the templates and builds the rewrite plugin.
func (c *RewriteConfig) Create() (plugin.Plugin, error) {
	p := &rewrite{statusCode: c.StatusCode}

	if c.Body != nil {
		if c.BodyBase64 {
			decoded, err := base64.StdEncoding.DecodeString(*c.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to decode the body: %w", err)
			}
			p.body = decoded
		} else {
			p.body = []byte(*c.Body)
		}
	}

	for name, tmplStr := range c.Headers {
		normalized := varRef.ReplaceAllStringFunc(tmplStr, func(ref string) string {
			switch name := varRef.FindStringSubmatch(ref)[1]; name {
			case "if", "else", "end", "range", "with", "define", "template", "block", "break", "continue", "nil":
				return ref
			default:
				return "{{." + name + "}}"
			}
		})
		tmpl, err := template.New(name).
			Funcs(tmplutil.FuncMap()).
			Option("missingkey=error").
			Parse(normalized)
		if err != nil {
			return nil, fmt.Errorf("failed to parse the value of header %q: %w", name, err)
		}
		p.headers = append(p.headers, headerTemplate{name: name, tmpl: tmpl})
	}

	return p, nil
}

type headerTemplate struct {
	name string
	tmpl *template.Template
}

type rewrite struct {
	statusCode *int
	body       []byte
	headers    []headerTemplate
}

func (p *rewrite) Priority() int { return 0 }

func (p *rewrite) Call(w http.ResponseWriter, r *http.Request, ctx *plugin.Context, next plugin.Next) {
	rec := plugin.NewRecorder()
	next.Call(rec, r, ctx)

	if p.statusCode != nil {
		rec.SetStatus(*p.statusCode)
	}
	if p.body != nil {
		rec.Header().Del("Content-Length")
		rec.SetBody(p.body)
	}

	for _, ht := range p.headers {
		var sb strings.Builder
		if err := ht.tmpl.Execute(&sb, ctx.Vars()); err != nil {
			continue
		}
		if value := sb.String(); value != "" {
			rec.Header().Set(ht.name, value)
		}
	}

	rec.WriteTo(w)
}
