package frontend

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/a-h/templ"
)

type ToastLine struct {
	Title   string
	Message string
}

// StatusView is everything the status page shows about the running agent.
type StatusView struct {
	State         string
	Retries       int
	SessionID     string
	Events        []string
	Policy        string
	Version       uint64
	Contacts      int
	Tasks         int
	Overdue       int
	Location      string
	Highlight     string
	JoinedPages   []string
	Notifications []ToastLine
}

// StatusPage renders the agent status as a standalone HTML page.
func StatusPage(v StatusView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.raw(`<!doctype html><html lang="en"><head><meta charset="utf-8">`)
		p.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		p.raw(`<title>CRM sync status</title><link rel="stylesheet" href="` + StaticPrefix + `styles.css"></head><body><main>`)
		p.raw(`<h1>CRM sync</h1><div class="grid">`)

		p.raw(`<section class="panel"><h2>Connection</h2><div class="stat state-`)
		p.text(v.State)
		p.raw(`">`)
		p.text(v.State)
		p.raw(`</div><p class="muted">retries `)
		p.text(strconv.Itoa(v.Retries))
		if v.SessionID != "" {
			p.raw(` &middot; session <code>`)
			p.text(v.SessionID)
			p.raw(`</code>`)
		}
		p.raw(`</p></section>`)

		p.raw(`<section class="panel"><h2>View</h2><div class="stat">`)
		p.text(fmt.Sprintf("%d contacts, %d tasks", v.Contacts, v.Tasks))
		p.raw(`</div><p class="muted">`)
		p.text(fmt.Sprintf("%d overdue · version %d · policy %s", v.Overdue, v.Version, v.Policy))
		p.raw(`</p></section>`)

		p.raw(`<section class="panel"><h2>Navigation</h2><div class="stat">`)
		p.text(v.Location)
		p.raw(`</div>`)
		if v.Highlight != "" {
			p.raw(`<p class="muted">highlight <code>`)
			p.text(v.Highlight)
			p.raw(`</code></p>`)
		}
		p.raw(`</section></div>`)

		p.list("Subscribed events", v.Events, func(e string) {
			p.raw(`<code>`)
			p.text(e)
			p.raw(`</code>`)
		})
		p.list("Pages", v.JoinedPages, func(page string) { p.text(page) })

		p.raw(`<section class="panel"><h2>Notifications</h2>`)
		if len(v.Notifications) == 0 {
			p.raw(`<p class="muted">none</p>`)
		} else {
			p.raw(`<ul>`)
			for _, n := range v.Notifications {
				p.raw(`<li><strong>`)
				p.text(n.Title)
				p.raw(`</strong>`)
				if n.Message != "" {
					p.raw(` <span class="muted">`)
					p.text(n.Message)
					p.raw(`</span>`)
				}
				p.raw(`</li>`)
			}
			p.raw(`</ul>`)
		}
		p.raw(`</section></main></body></html>`)
		return p.err
	})
}

// printer keeps the first write error so rendering code stays linear.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) raw(s string) {
	if p.err != nil {
		return
	}
	_, p.err = io.WriteString(p.w, s)
}

func (p *printer) text(s string) {
	p.raw(templ.EscapeString(s))
}

func (p *printer) list(title string, items []string, item func(string)) {
	p.raw(`<section class="panel"><h2>`)
	p.text(title)
	p.raw(`</h2>`)
	if len(items) == 0 {
		p.raw(`<p class="muted">none</p></section>`)
		return
	}
	p.raw(`<ul>`)
	for _, it := range items {
		p.raw(`<li>`)
		item(it)
		p.raw(`</li>`)
	}
	p.raw(`</ul></section>`)
}
