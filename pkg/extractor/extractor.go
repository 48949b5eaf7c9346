// Package extractor 将下载的申报文件转换为可用于提示词的文本
package extractor

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"FilingRadar/pkg/model"
)

const (
	PrimaryContentLimit = 50_000
	Exhibit99Limit      = 30_000

	// 主内容不足时启用关键词密度兜底
	minPrimaryContent = 1000
)

var (
	exhibitFileName = regexp.MustCompile(`(?i)(ex[-_]?\d|exhibit[-_]?\d|dex\d)`)
	ex99FileName    = regexp.MustCompile(`(?i)ex[-_]?99|exhibit99|dex99`)
)

// Result 提取结果，出错时Error非空且文本为空
type Result struct {
	FullText       string            `json:"full_text"`
	PrimaryContent string            `json:"primary_content"`
	FilingType     model.FilingType  `json:"filing_type"`
	Sections       map[string]string `json:"sections,omitempty"`
	SectionOrder   []string          `json:"-"`
	Items          []Item            `json:"items,omitempty"`
	Exhibit99      string            `json:"exhibit_99,omitempty"`
	SourceFile     string            `json:"source_file,omitempty"`
	IXBRL          bool              `json:"ixbrl"`
	Error          string            `json:"error,omitempty"`
}

// OK 提取成功且有文本
func (r *Result) OK() bool {
	return r != nil && r.Error == "" && r.FullText != ""
}

func failed(format string, args ...any) *Result {
	return &Result{FilingType: model.FilingTypeUnknown, Error: fmt.Sprintf(format, args...)}
}

// Extractor 文本提取器，无状态，可并发使用
type Extractor struct {
	logger *zap.Logger
}

// New 创建文本提取器
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// ExtractDir 从filing目录中选出主文档并提取
func (e *Extractor) ExtractDir(dir string) *Result {
	return e.ExtractDirAs(dir, "")
}

// ExtractDirAs 已知表格类型时跳过类型识别。主文档按文件名猜测
func (e *Extractor) ExtractDirAs(dir string, form model.FilingType) *Result {
	main, exhibits, err := pickFiles(dir)
	if err != nil {
		e.logger.Warn("没有找到可提取的文档", zap.String("dir", dir), zap.Error(err))
		return failed("%v", err)
	}
	var ex99 []string
	for _, f := range exhibits {
		if ex99FileName.MatchString(filepath.Base(f)) {
			ex99 = append(ex99, f)
		}
	}
	return e.ExtractFiles(Files{Primary: main, Exhibit99: ex99}, form)
}

// Files 已确定的主文档和EX-99附件路径
type Files struct {
	Primary   string
	Exhibit99 []string
}

// ExtractFiles 提取下载器已分类的文件，不再按文件名判断
func (e *Extractor) ExtractFiles(files Files, form model.FilingType) (res *Result) {
	defer e.guard(&res)

	if files.Primary == "" {
		return failed("缺少主文档")
	}
	body, err := os.ReadFile(files.Primary)
	if err != nil {
		return failed("读取文件失败: %v", err)
	}

	var ex99 string
	if model.BaseForm(string(form)) == "8-K" || form == "" {
		ex99 = e.exhibit99Text(files.Exhibit99)
	}

	res = e.extract(string(body), filepath.Base(files.Primary), form, ex99)
	res.SourceFile = files.Primary
	return res
}

// ExtractContent 提取一段HTML或文本内容
func (e *Extractor) ExtractContent(content, name string) *Result {
	return e.extract(content, name, "", "")
}

func (e *Extractor) extract(content, name string, form model.FilingType, ex99 string) (res *Result) {
	defer e.guard(&res)

	text, html, ixbrl := toText(content, name)
	if text == "" {
		return failed("提取的文本为空: %s", name)
	}

	res = &Result{
		FullText: text,
		IXBRL:    ixbrl,
		Sections: make(map[string]string),
	}
	res.FilingType = form
	if form == "" || form == model.FilingTypeUnknown || form == model.FilingTypeOther {
		res.FilingType = IdentifyFilingType(text)
	}

	e.structure(res, html, ex99)

	e.logger.Debug("文本提取完成",
		zap.String("file", name),
		zap.String("filing_type", string(res.FilingType)),
		zap.Bool("ixbrl", ixbrl),
		zap.Int("full_text", len(res.FullText)),
		zap.Int("primary_content", len(res.PrimaryContent)),
		zap.Int("sections", len(res.Sections)))
	return res
}

// structure 按类型切分章节并生成主内容
func (e *Extractor) structure(res *Result, html, ex99 string) {
	text := res.FullText
	var primary string

	switch {
	case model.BaseForm(string(res.FilingType)) == "8-K":
		res.Items = splitItemBlocks(text)
		parts := make([]string, 0, len(res.Items))
		for _, it := range res.Items {
			parts = append(parts, it.Title+"\n"+it.Content)
			key := "item_" + it.Number
			if _, dup := res.Sections[key]; !dup {
				res.Sections[key] = it.Content
				res.SectionOrder = append(res.SectionOrder, key)
			}
		}
		primary = strings.Join(parts, "\n\n")
		if ex99 != "" {
			res.Exhibit99 = truncate(ex99, Exhibit99Limit)
			primary = strings.TrimSpace(primary + "\n\nEXHIBIT 99\n" + res.Exhibit99)
		}
	case res.FilingType == model.FilingType10K:
		res.Sections, res.SectionOrder = extractBounded(text, tenKSections, tenKMaxChars, annualMinChars)
		primary = joinSections(res.Sections, res.SectionOrder)
	case res.FilingType == model.FilingType10Q:
		res.Sections, res.SectionOrder = extractBounded(text, tenQSections, tenQMaxChars, annualMinChars)
		primary = joinSections(res.Sections, res.SectionOrder)
	case res.FilingType.IsS1():
		res.Sections, res.SectionOrder = extractS1(text, html)
		primary = joinSections(res.Sections, res.SectionOrder)
	}

	if len(primary) < minPrimaryContent {
		if dense := KeywordDensityContent(text, PrimaryContentLimit); len(dense) > len(primary) {
			e.logger.Debug("结构化提取内容不足，使用关键词密度兜底", zap.Int("structured", len(primary)), zap.Int("dense", len(dense)))
			primary = dense
		}
	}
	if len(primary) < minPrimaryContent && len(text) > len(primary) {
		primary = text
	}
	res.PrimaryContent = truncate(primary, PrimaryContentLimit)
}

func joinSections(sections map[string]string, order []string) string {
	parts := make([]string, 0, len(order))
	for _, name := range order {
		if s := sections[name]; s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// exhibit99Text EX-99附件的文本，按给定顺序拼接
func (e *Extractor) exhibit99Text(files []string) string {
	var parts []string
	total := 0
	for _, f := range files {
		body, err := os.ReadFile(f)
		if err != nil {
			e.logger.Warn("读取附件失败", zap.String("file", f), zap.Error(err))
			continue
		}
		text, _, _ := toText(string(body), filepath.Base(f))
		if text == "" {
			continue
		}
		parts = append(parts, text)
		total += len(text)
		if total >= Exhibit99Limit {
			break
		}
	}
	return truncate(strings.Join(parts, "\n\n"), Exhibit99Limit)
}

// toText 返回纯文本、用于样式分析的HTML，以及是否为iXBRL
func toText(content, name string) (string, string, bool) {
	if strings.EqualFold(filepath.Ext(name), ".txt") || !LooksLikeHTML(content) {
		content = firstDocument(stripSECHeader(content))
		if !LooksLikeHTML(content) {
			return CleanText(content), "", false
		}
	}

	ixbrl := IsIXBRL(content)
	if ixbrl {
		content = StripIXBRL(content)
	}
	return HTMLToText(content), content, ixbrl
}

// pickFiles 选择主文档，优先txt，其次最大的html；返回其余附件
func pickFiles(dir string) (string, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil, fmt.Errorf("读取目录失败: %w", err)
	}

	type candidate struct {
		path string
		ext  string
		size int64
	}
	var (
		mains    []candidate
		exhibits []string
	)
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		lower := strings.ToLower(name)
		ext := filepath.Ext(lower)
		if ext != ".txt" && ext != ".htm" && ext != ".html" {
			continue
		}
		if lower == "index.htm" || lower == "index.html" || strings.HasSuffix(lower, "-index.htm") || strings.HasSuffix(lower, "-index.html") {
			continue
		}
		path := filepath.Join(dir, name)
		if exhibitFileName.MatchString(lower) {
			exhibits = append(exhibits, path)
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		mains = append(mains, candidate{path: path, ext: ext, size: info.Size()})
	}
	sort.Strings(exhibits)

	if len(mains) == 0 {
		return "", exhibits, fmt.Errorf("目录中没有申报文档: %s", dir)
	}
	sort.SliceStable(mains, func(i, j int) bool {
		ti, tj := mains[i].ext == ".txt", mains[j].ext == ".txt"
		if ti != tj {
			return ti
		}
		return mains[i].size > mains[j].size
	})
	return mains[0].path, exhibits, nil
}

// guard 提取过程中的panic转为错误结果
func (e *Extractor) guard(res **Result) {
	if r := recover(); r != nil {
		e.logger.Error("文本提取异常", zap.Any("panic", r))
		*res = failed("提取异常: %v", r)
	}
}
