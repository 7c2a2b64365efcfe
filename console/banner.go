package console

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"auto_xhs_publisher/pipeline"
)

// Banner prints the start-up header with the resolved backends.
func Banner(w io.Writer, llmModel, imageModel, category string) {
	r := lipgloss.NewRenderer(w)
	title := r.NewStyle().Foreground(lipgloss.Color("#ff2442")).Bold(true).Render("A U T O  X H S")
	sub := r.NewStyle().Foreground(lipgloss.Color("245")).Italic(true).Render("小红书笔记自动创作与发布")
	key := r.NewStyle().Bold(true)
	val := r.NewStyle().Foreground(lipgloss.Color("245"))

	if imageModel == "" {
		imageModel = "(不生成封面)"
	}
	fmt.Fprintf(w, "\n  %s\n  %s\n\n", title, sub)
	for _, row := range [][2]string{{"文本模型", llmModel}, {"图片模型", imageModel}, {"内容类别", category}} {
		fmt.Fprintf(w, "    %s  %s\n", key.Render(fmt.Sprintf("%-8s", row[0])), val.Render(row[1]))
	}
	fmt.Fprintln(w)
}

// Summary prints the outcome of a finished session.
func Summary(w io.Writer, s *pipeline.Session) {
	r := lipgloss.NewRenderer(w)
	ok := r.NewStyle().Foreground(lipgloss.Color("#4ade80")).Bold(true)
	dim := r.NewStyle().Foreground(lipgloss.Color("245"))
	if s == nil || s.Record == nil {
		return
	}
	fmt.Fprintf(w, "\n%s %s\n", ok.Render("✓ 发布成功"), s.Record.Draft.Title)
	fmt.Fprintf(w, "  %s %s\n", dim.Render("笔记 ID:"), s.Record.Outcome.NoteID)
	if s.Record.Outcome.URL != "" {
		fmt.Fprintf(w, "  %s %s\n", dim.Render("链接:"), s.Record.Outcome.URL)
	}
	fmt.Fprintf(w, "  %s %s\n", dim.Render("可见范围:"), s.Record.Visibility)
	fmt.Fprintf(w, "  %s %s\n", dim.Render("会话目录:"), s.Key)
}
