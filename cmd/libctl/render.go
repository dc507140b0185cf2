package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/fruitsalade/librarian/internal/notify"
	"github.com/fruitsalade/librarian/internal/tree"
	"github.com/fruitsalade/librarian/pkg/models"
	"github.com/fruitsalade/librarian/pkg/protocol"
)

var (
	colorGreen   = lipgloss.Color("#a6e3a1")
	colorRed     = lipgloss.Color("#f38ba8")
	colorPeach   = lipgloss.Color("#fab387")
	colorBlue    = lipgloss.Color("#89b4fa")
	colorSubtext = lipgloss.Color("#a6adc8")
	colorOverlay = lipgloss.Color("#7f849c")
)

// styles holds every style the CLI prints with. Plain styles are used when
// color is off.
type styles struct {
	title   map[notify.Kind]lipgloss.Style
	library lipgloss.Style
	folder  lipgloss.Style
	item    lipgloss.Style
	meta    lipgloss.Style
	id      lipgloss.Style
	header  lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{
			title: map[notify.Kind]lipgloss.Style{
				notify.Success: plain, notify.Error: plain, notify.Warning: plain, notify.Info: plain,
			},
			library: plain, folder: plain, item: plain, meta: plain, id: plain, header: plain,
		}
	}
	return styles{
		title: map[notify.Kind]lipgloss.Style{
			notify.Success: lipgloss.NewStyle().Bold(true).Foreground(colorGreen),
			notify.Error:   lipgloss.NewStyle().Bold(true).Foreground(colorRed),
			notify.Warning: lipgloss.NewStyle().Bold(true).Foreground(colorPeach),
			notify.Info:    lipgloss.NewStyle().Bold(true).Foreground(colorBlue),
		},
		library: lipgloss.NewStyle().Bold(true).Foreground(colorBlue),
		folder:  lipgloss.NewStyle().Foreground(colorBlue),
		item:    lipgloss.NewStyle(),
		meta:    lipgloss.NewStyle().Foreground(colorSubtext),
		id:      lipgloss.NewStyle().Foreground(colorOverlay),
		header:  lipgloss.NewStyle().Bold(true).Underline(true),
	}
}

var kindIcon = map[notify.Kind]string{
	notify.Success: "✓",
	notify.Error:   "✗",
	notify.Warning: "!",
	notify.Info:    "•",
}

// termSink prints notifications as they arrive.
type termSink struct {
	mu     sync.Mutex
	w      io.Writer
	styles styles
	errors int
}

func (s *termSink) Notify(n notify.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.Kind == notify.Error {
		s.errors++
	}
	title := s.styles.title[n.Kind].Render(kindIcon[n.Kind] + " " + n.Title)
	if n.Message == "" {
		fmt.Fprintln(s.w, title)
		return
	}
	fmt.Fprintf(s.w, "%s  %s\n", title, n.Message)
}

func (s *termSink) errorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

// printer renders listings for the CLI.
type printer struct {
	w        io.Writer
	styles   styles
	showSize bool
}

func (p printer) forest(forest []models.Container) {
	if len(forest) == 0 {
		fmt.Fprintln(p.w, p.styles.meta.Render("(no libraries)"))
		return
	}
	tree.Walk(forest, func(c models.Container, depth int) bool {
		indent := strings.Repeat("  ", depth)
		label := p.styles.folder.Render(c.Label)
		if c.ID.IsLibrary() {
			label = p.styles.library.Render(c.Label)
		}
		fmt.Fprintf(p.w, "%s%s %s\n", indent, label, p.styles.id.Render(c.ID.String()))
		return true
	})
}

func (p printer) listing(resp protocol.ItemsResponse) {
	fmt.Fprintln(p.w, p.styles.header.Render(resp.Path))
	if len(resp.Items) == 0 {
		fmt.Fprintln(p.w, p.styles.meta.Render("  (empty)"))
		return
	}
	for _, it := range resp.Items {
		line := "  " + p.styles.item.Render(it.Title)
		if p.showSize {
			line += "  " + p.styles.meta.Render(humanSize(it.Size))
		}
		line += "  " + p.styles.id.Render(it.ID)
		fmt.Fprintln(p.w, line)
	}
}

func (p printer) event(ev protocol.Event) {
	target := ev.Container.String()
	if target == "" {
		target = "-"
	}
	fmt.Fprintf(p.w, "%s %s %s %s\n",
		p.styles.meta.Render(fmt.Sprint(ev.Timestamp)),
		p.styles.title[notify.Info].Render(ev.Type),
		target,
		p.styles.id.Render(strings.Join(ev.ItemIDs, ",")))
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
