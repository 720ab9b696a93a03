// Package templates renders the transactional and newsletter emails from
// embedded Liquid files. Each file starts with a "Subject:" line, a blank
// line, then the HTML body; the body is wrapped in the shared layout.
package templates

import (
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

//go:embed files/*.liquid
var files embed.FS

// Template names.
const (
	FounderConfirmation  = "founder_confirmation"
	InvestorConfirmation = "investor_confirmation"
	NewsletterWelcome    = "newsletter_welcome"
	NewsletterDigest     = "newsletter_digest"
	Campaign             = "campaign"

	layoutName = "layout"
)

// ErrUnknownTemplate is returned when no embedded file matches a name.
var ErrUnknownTemplate = errors.New("unknown email template")

// Vars are the bindings passed to a template.
type Vars map[string]any

type parsed struct {
	subject *liquid.Template
	body    *liquid.Template
}

// Renderer renders embedded templates, caching parsed files.
type Renderer struct {
	engine   *liquid.Engine
	cache    sync.Map // map[string]*parsed
	siteURL  string
	siteName string
}

// NewRenderer creates a renderer. siteURL is bound as site_url in every
// template unless the caller overrides it.
func NewRenderer(siteURL string) *Renderer {
	r := &Renderer{
		engine:   liquid.NewEngine(),
		siteURL:  strings.TrimRight(siteURL, "/"),
		siteName: "FounderMatch",
	}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// {{ full_name | first_name }}
	r.engine.RegisterFilter("first_name", func(s string) string {
		fields := strings.Fields(s)
		if len(fields) == 0 {
			return "there"
		}
		return fields[0]
	})
}

// Render returns the rendered subject and full HTML document for name.
func (r *Renderer) Render(name string, vars Vars) (subject, html string, err error) {
	tpl, err := r.load(name)
	if err != nil {
		return "", "", err
	}
	layout, err := r.load(layoutName)
	if err != nil {
		return "", "", err
	}

	bindings := r.bindings(vars)
	subject, err = tpl.subject.RenderString(bindings)
	if err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", name, err)
	}
	subject = strings.TrimSpace(subject)

	content, err := tpl.body.RenderString(bindings)
	if err != nil {
		return "", "", fmt.Errorf("render %s body: %w", name, err)
	}

	bindings["subject"] = subject
	bindings["content"] = strings.TrimSpace(content)
	html, err = layout.body.RenderString(bindings)
	if err != nil {
		return "", "", fmt.Errorf("render layout for %s: %w", name, err)
	}
	return subject, html, nil
}

func (r *Renderer) bindings(vars Vars) liquid.Bindings {
	b := liquid.Bindings{
		"site_url":        r.siteURL,
		"site_name":       r.siteName,
		"unsubscribe_url": "",
	}
	for k, v := range vars {
		b[k] = v
	}
	return b
}

func (r *Renderer) load(name string) (*parsed, error) {
	if cached, ok := r.cache.Load(name); ok {
		return cached.(*parsed), nil
	}

	data, err := files.ReadFile("files/" + name + ".liquid")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	subjectSrc, bodySrc := splitSubject(string(data))
	p := &parsed{}
	if p.subject, err = r.engine.ParseString(subjectSrc); err != nil {
		return nil, fmt.Errorf("parse %s subject: %w", name, err)
	}
	if p.body, err = r.engine.ParseString(bodySrc); err != nil {
		return nil, fmt.Errorf("parse %s body: %w", name, err)
	}

	actual, _ := r.cache.LoadOrStore(name, p)
	return actual.(*parsed), nil
}

// splitSubject separates a leading "Subject:" line from the body.
func splitSubject(src string) (subject, body string) {
	first, rest, found := strings.Cut(src, "\n")
	if !found || !strings.HasPrefix(first, "Subject:") {
		return "", src
	}
	return strings.TrimSpace(strings.TrimPrefix(first, "Subject:")), rest
}
