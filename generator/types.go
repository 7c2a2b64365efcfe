package generator

// Draft 是当前正在审阅的笔记内容，整体替换，不做字段级合并。
type Draft struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags"`
}

// Body 是一次正文生成的结果，正文与标签总是一起替换。
type Body struct {
	Text string
	Tags []string
}

// WithBody returns a copy of d carrying b's text and tags.
func (d Draft) WithBody(b Body) Draft {
	tags := make([]string, len(b.Tags))
	copy(tags, b.Tags)
	return Draft{Title: d.Title, Body: b.Text, Tags: tags}
}

// FormatTags renders tags the way the platform expects them: "#a #b".
func (d Draft) FormatTags() string {
	out := make([]byte, 0, 16*len(d.Tags))
	for i, t := range d.Tags {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, '#')
		out = append(out, t...)
	}
	return string(out)
}

// ImageAsset 封面图：本地路径 + 生成它的提示词。
type ImageAsset struct {
	Path   string `json:"path"`
	Prompt string `json:"prompt"`
}
