// Package render converts a completed job's result into a downloadable
// document. Rendering is deterministic: the same job always produces the
// same artifact apart from the generation timestamp in the header.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/rbailey/tutorialforge/pkg/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Artifact is a rendered document ready to be sent to the client.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

// md converts chapter markdown with GitHub-flavored tables and fenced code
// blocks, matching what the pipeline emits.
var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithUnsafe()),
)

// HTML renders a completed job into a standalone HTML document: a header
// block with the job identity, a table of contents, one section per chapter
// separated by rules, and a footer with the completion timestamp.
func HTML(job *models.Job) (*Artifact, error) {
	if job.Result == nil || len(job.Result.Chapters) == 0 {
		return nil, fmt.Errorf("job %s has no renderable content", job.ID)
	}

	var body bytes.Buffer
	var toc strings.Builder
	for i, chapter := range job.Result.Chapters {
		anchor := fmt.Sprintf("chapter-%d", i+1)
		title := chapterTitle(chapter, i)

		fmt.Fprintf(&toc, "<li><a href=\"#%s\">%s</a></li>\n", anchor, escape(title))

		fmt.Fprintf(&body, "<section id=%q>\n", anchor)
		if err := md.Convert([]byte(chapter), &body); err != nil {
			return nil, fmt.Errorf("convert chapter %d: %w", i+1, err)
		}
		body.WriteString("</section>\n")
		if i < len(job.Result.Chapters)-1 {
			body.WriteString("<hr>\n")
		}
	}

	completed := "unknown"
	if job.CompletedAt != nil {
		completed = job.CompletedAt.UTC().Format(timestampLayout)
	}

	var doc bytes.Buffer
	fmt.Fprintf(&doc, docHeader,
		job.ID,
		job.ID,
		time.Now().UTC().Format(timestampLayout),
		toc.String(),
	)
	doc.Write(body.Bytes())
	fmt.Fprintf(&doc, docFooter, completed)

	return &Artifact{
		Filename:    fmt.Sprintf("tutorial-%s.html", job.ID),
		ContentType: "text/html; charset=utf-8",
		Data:        doc.Bytes(),
	}, nil
}

const timestampLayout = "January 2, 2006 at 15:04 MST"

// chapterTitle pulls the first markdown heading from a chapter, falling back
// to a positional name.
func chapterTitle(chapter string, index int) string {
	for _, line := range strings.Split(chapter, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
	}
	return fmt.Sprintf("Chapter %d", index+1)
}

func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

const docHeader = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Tutorial - Job %s</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
       max-width: 800px; margin: 0 auto; padding: 20px; line-height: 1.6; color: #333; }
h1, h2, h3 { color: #2563eb; margin-top: 2em; margin-bottom: 0.5em; }
h1 { border-bottom: 2px solid #e5e7eb; padding-bottom: 0.3em; }
code { background: #f1f5f9; padding: 2px 6px; border-radius: 4px; }
pre { background: #f8fafc; padding: 16px; border-radius: 8px; overflow-x: auto;
      border: 1px solid #e2e8f0; }
pre code { background: none; padding: 0; }
table { border-collapse: collapse; width: 100%%; margin: 16px 0; }
th, td { border: 1px solid #e2e8f0; padding: 8px 12px; text-align: left; }
th { background: #f9fafb; font-weight: 600; }
.header, .footer { text-align: center; padding: 20px; background: #f8fafc; border-radius: 8px; }
.header { margin-bottom: 2em; }
.footer { margin-top: 3em; color: #6b7280; }
hr { border: none; border-top: 1px solid #e2e8f0; margin: 2em 0; }
nav.toc { background: #f8fafc; border-radius: 8px; padding: 16px 32px; }
</style>
</head>
<body>
<div class="header">
<h1>Generated Tutorial</h1>
<p><strong>Job ID:</strong> %s</p>
<p><strong>Generated:</strong> %s</p>
</div>
<nav class="toc">
<ol>
%s</ol>
</nav>
`

const docFooter = `<div class="footer">
<p><em>Generated with TutorialForge</em></p>
<p>Job completed on %s</p>
</div>
</body>
</html>
`
