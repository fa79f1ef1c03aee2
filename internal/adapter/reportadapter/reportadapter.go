package reportadapter

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jgivc/imergfetch/internal/entity"
	"github.com/spf13/afero"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"go.abhg.dev/goldmark/frontmatter"
	"gopkg.in/yaml.v2"
)

const (
	extMarkdown = ".md"
	extHTML     = ".html"

	dirPerm  = 0o755
	filePerm = 0o644

	frontmatterDelim = "---\n"

	htmlHead = "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n"
	htmlTail = "</body>\n</html>\n"
)

// Frontmatter is the metadata block on top of every report.
type Frontmatter struct {
	RunID     string `yaml:"run_id"`
	Kind      string `yaml:"kind"`
	Start     string `yaml:"start"`
	End       string `yaml:"end"`
	Completed int    `yaml:"completed"`
	Skipped   int    `yaml:"skipped"`
	Failed    int    `yaml:"failed"`
	Aborted   int    `yaml:"aborted"`
	Bytes     int64  `yaml:"bytes"`
	StartedAt string `yaml:"started_at"`
	Elapsed   string `yaml:"elapsed"`
}

type reportAdapter struct {
	fs  afero.Fs
	dir string
	md  goldmark.Markdown
	log *slog.Logger
}

func NewReportAdapter(dir string, log *slog.Logger) *reportAdapter {
	return NewReportAdapterWithFS(afero.NewOsFs(), dir, log)
}

func NewReportAdapterWithFS(fs afero.Fs, dir string, log *slog.Logger) *reportAdapter {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.Table,
			&frontmatter.Extender{},
		),
		goldmark.WithRendererOptions(
			html.WithXHTML(),
		),
	)

	return &reportAdapter{
		fs:  fs,
		dir: dir,
		md:  md,
		log: log.With(slog.String("item", "ReportAdapter")),
	}
}

// Write stores {run_id}.md and {run_id}.html and returns the markdown path.
func (a *reportAdapter) Write(ctx context.Context, s *entity.Summary) (string, error) {
	src, err := Markdown(s)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	if err := a.md.Convert(src, &body, parser.WithContext(parser.NewContext())); err != nil {
		return "", fmt.Errorf("cannot convert markdown: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := a.fs.MkdirAll(a.dir, dirPerm); err != nil {
		return "", fmt.Errorf("cannot create report dir: %w", err)
	}

	mdPath := filepath.Join(a.dir, s.RunID+extMarkdown)
	if err := afero.WriteFile(a.fs, mdPath, src, filePerm); err != nil {
		return "", fmt.Errorf("cannot write report: %w", err)
	}

	var page bytes.Buffer
	fmt.Fprintf(&page, htmlHead, "IMERG run "+s.RunID)
	page.Write(body.Bytes())
	page.WriteString(htmlTail)

	htmlPath := filepath.Join(a.dir, s.RunID+extHTML)
	if err := afero.WriteFile(a.fs, htmlPath, page.Bytes(), filePerm); err != nil {
		return "", fmt.Errorf("cannot write html report: %w", err)
	}

	a.log.Info("Report written", slog.String("path", mdPath))

	return mdPath, nil
}

// Markdown renders the summary as a markdown document with a YAML header.
func Markdown(s *entity.Summary) ([]byte, error) {
	fm := Frontmatter{
		RunID:     s.RunID,
		Kind:      s.Kind.String(),
		Start:     s.Start.String(),
		End:       s.End.String(),
		Completed: s.Completed(),
		Skipped:   s.Skipped(),
		Failed:    s.Failed(),
		Aborted:   s.Aborted(),
		Bytes:     s.Bytes(),
		StartedAt: s.StartedAt.UTC().Format(time.RFC3339),
		Elapsed:   s.Elapsed.Round(time.Millisecond).String(),
	}

	meta, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal frontmatter: %w", err)
	}

	var b bytes.Buffer
	b.WriteString(frontmatterDelim)
	b.Write(meta)
	b.WriteString(frontmatterDelim)

	fmt.Fprintf(&b, "\n# IMERG %s download %s .. %s\n\n", s.Kind, s.Start, s.End)
	fmt.Fprintf(&b, "Run `%s`: %d downloaded, %d skipped, %d failed, %d aborted, %d bytes.\n\n",
		s.RunID, fm.Completed, fm.Skipped, fm.Failed, fm.Aborted, fm.Bytes)

	if len(s.Results) > 0 {
		b.WriteString("## Files\n\n")
		b.WriteString("| Target | Status | Bytes | SHA-1 | Local | Remote |\n")
		b.WriteString("|---|---|---:|---|---|---|\n")
		for _, r := range s.Results {
			status := "downloaded"
			if r.Skipped {
				status = "skipped"
			}
			fmt.Fprintf(&b, "| %s | %s | %d | %s | `%s` | `%s` |\n",
				r.Target, status, r.Bytes, r.SHA1, cell(r.LocalPath), cell(r.RemotePath))
		}
		b.WriteString("\n")
	}

	if len(s.Failures) > 0 {
		b.WriteString("## Failures\n\n")
		for _, f := range s.Failures {
			fmt.Fprintf(&b, "- **%s**: %s\n", f.Target, cell(f.Err.Error()))
		}
		b.WriteString("\n")
	}

	return b.Bytes(), nil
}

func cell(s string) string {
	return strings.NewReplacer("|", `\|`, "\n", " ").Replace(s)
}
