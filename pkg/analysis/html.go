package analysis

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// 叙述来自模型输出，不允许原始HTML
var narrativeMarkdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// RenderHTML 将叙述的markdown渲染为HTML，+[..] -[..] [!..] 标记替换为带class的span
func RenderHTML(narrative string) (string, error) {
	var buf bytes.Buffer
	if err := narrativeMarkdown.Convert([]byte(narrative), &buf); err != nil {
		return "", fmt.Errorf("渲染分析内容失败: %w", err)
	}
	out := buf.String()
	out = positiveMarkup.ReplaceAllString(out, `<span class="positive">$1</span>`)
	out = negativeMarkup.ReplaceAllString(out, `<span class="negative">$1</span>`)
	out = insightMarkup.ReplaceAllString(out, `<span class="insight">$1</span>`)
	return out, nil
}
