package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"FilingRadar/pkg/edgar"
	"FilingRadar/pkg/errs"
	"FilingRadar/pkg/model"
)

const (
	defaultMaxExhibits = 5
	// 主文档候选最多尝试几个
	maxPrimaryAttempts = 3
)

// Fetcher 限速的HTTP GET，edgar.Client实现
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Downloader 下载索引页、主文档和8-K附件到本地
type Downloader struct {
	fetcher     Fetcher
	archivesURL string
	dataDir     string
	maxExhibits int
	concurrency int
	logger      *zap.Logger
}

// NewDownloader 创建下载器
func NewDownloader(fetcher Fetcher, archivesURL, dataDir string, concurrency int, logger *zap.Logger) *Downloader {
	if concurrency <= 0 {
		concurrency = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		fetcher:     fetcher,
		archivesURL: archivesURL,
		dataDir:     dataDir,
		maxExhibits: defaultMaxExhibits,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Result 下载结果
type Result struct {
	Dir         string    `json:"dir"`
	IndexURL    string    `json:"index_url"`
	Primary     Document  `json:"primary"`
	PrimaryPath string    `json:"primary_path"`
	Exhibits    []Exhibit `json:"exhibits"`
	Files       []string  `json:"files"`
}

// ExhibitPaths 已保存的某类附件的本地路径，保持优先级顺序
func (r *Result) ExhibitPaths(category string) []string {
	var paths []string
	for _, ex := range r.Exhibits {
		if ex.Category == category {
			paths = append(paths, filepath.Join(r.Dir, safeName(ex.Name)))
		}
	}
	return paths
}

// FilingDir 本地目录 <dataDir>/<cik>/<accession去横线>
func FilingDir(dataDir, cik, accession string) string {
	return filepath.Join(dataDir, cik, edgar.AccessionNoDashes(accession))
}

// Dir 某个filing的本地目录
func (d *Downloader) Dir(cik, accession string) string {
	return FilingDir(d.dataDir, cik, accession)
}

// Download 下载一个filing，失败时不保存不合格内容
func (d *Downloader) Download(ctx context.Context, cik, accession string, form model.FilingType) (*Result, error) {
	if !edgar.ValidAccession(accession) {
		return nil, errs.Validation("accession_number", "格式错误: "+accession)
	}

	res := &Result{Dir: d.Dir(cik, accession)}
	if err := os.MkdirAll(res.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建目录失败: %w", err)
	}

	docs, indexURL, indexHTML, err := d.fetchIndex(ctx, cik, accession)
	if err != nil {
		d.logger.Warn("索引页获取失败，尝试常规文件名", zap.String("accession", accession), zap.Error(err))
	} else {
		res.IndexURL = indexURL
		if err := d.save(res, "index.htm", indexHTML); err != nil {
			return nil, err
		}
	}

	candidates := RankPrimary(docs, form)
	if len(candidates) == 0 {
		candidates = d.conventionalCandidates(cik, accession)
	}

	primary, body, err := d.fetchPrimary(ctx, candidates, form)
	if err != nil {
		return nil, err
	}
	res.Primary = primary
	res.PrimaryPath = filepath.Join(res.Dir, safeName(primary.Name))
	if err := d.save(res, primary.Name, body); err != nil {
		return nil, err
	}

	if model.BaseForm(string(form)) == "8-K" {
		res.Exhibits = d.downloadExhibits(ctx, res, SelectExhibits(docs, d.maxExhibits))
	}

	d.logger.Info("filing下载完成",
		zap.String("accession", accession),
		zap.String("primary", primary.Name),
		zap.Int("exhibits", len(res.Exhibits)))
	return res, nil
}

// fetchIndex 依次尝试索引页地址，直到解析出文件列表
func (d *Downloader) fetchIndex(ctx context.Context, cik, accession string) ([]Document, string, []byte, error) {
	var lastErr error
	for _, u := range edgar.IndexURLVariants(d.archivesURL, cik, accession) {
		body, err := d.fetcher.Get(ctx, u)
		if err != nil {
			lastErr = err
			if errs.KindOf(err) == errs.KindConfiguration {
				return nil, "", nil, err
			}
			continue
		}
		docs := ParseIndex(string(body), u)
		if len(docs) == 0 {
			lastErr = fmt.Errorf("索引页没有文件: %s", u)
			continue
		}
		return docs, u, body, nil
	}
	if lastErr == nil {
		lastErr = errors.New("没有可用的索引地址")
	}
	return nil, "", nil, errs.Transient("获取索引页", lastErr)
}

// conventionalCandidates 索引解析失败时使用完整提交文本
func (d *Downloader) conventionalCandidates(cik, accession string) []Document {
	dir := edgar.FilingDir(d.archivesURL, cik, accession)
	noDash := edgar.AccessionNoDashes(accession)
	names := []string{accession + ".txt", noDash + ".txt", "primary_doc.htm"}
	out := make([]Document, 0, len(names))
	for i, n := range names {
		out = append(out, Document{Sequence: i + 1, Name: n, URL: dir + "/" + n})
	}
	return out
}

// fetchPrimary 按候选顺序下载并校验主文档
func (d *Downloader) fetchPrimary(ctx context.Context, candidates []Document, form model.FilingType) (Document, []byte, error) {
	var lastErr error
	for i, c := range candidates {
		if i >= maxPrimaryAttempts {
			break
		}
		body, err := d.fetcher.Get(ctx, c.URL)
		if err != nil {
			lastErr = err
			if errs.KindOf(err) == errs.KindConfiguration {
				break
			}
			continue
		}
		if err := ValidateContent(body, form, c.Name); err != nil {
			d.logger.Warn("主文档校验失败", zap.String("doc", c.Name), zap.Error(err))
			lastErr = err
			continue
		}
		return c, body, nil
	}

	if lastErr == nil {
		return Document{}, nil, errs.Content("没有找到主文档", nil)
	}
	if errors.Is(lastErr, errs.ErrNotFound) {
		return Document{}, nil, errs.Transient("下载主文档", lastErr)
	}
	return Document{}, nil, fmt.Errorf("下载主文档失败: %w", lastErr)
}

// downloadExhibits 并发下载附件，单个失败只记录日志
func (d *Downloader) downloadExhibits(ctx context.Context, res *Result, exhibits []Exhibit) []Exhibit {
	if len(exhibits) == 0 {
		return nil
	}

	var (
		mu    sync.Mutex
		saved = make([]bool, len(exhibits))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for i, ex := range exhibits {
		g.Go(func() error {
			body, err := d.fetcher.Get(gctx, ex.URL)
			if err != nil {
				d.logger.Warn("附件下载失败", zap.String("exhibit", ex.Name), zap.Error(err))
				return nil
			}
			if int64(len(body)) > ex.sizeCap() {
				d.logger.Warn("附件超过大小上限", zap.String("exhibit", ex.Name), zap.Int("bytes", len(body)))
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if err := d.save(res, ex.Name, body); err != nil {
				d.logger.Warn("附件保存失败", zap.String("exhibit", ex.Name), zap.Error(err))
				return nil
			}
			saved[i] = true
			return nil
		})
	}
	_ = g.Wait()

	// 保持优先级顺序
	out := make([]Exhibit, 0, len(exhibits))
	for i, ex := range exhibits {
		if saved[i] {
			out = append(out, ex)
		}
	}
	return out
}

func (e Exhibit) sizeCap() int64 {
	for _, r := range exhibitRules {
		if r.Category == e.Category {
			return r.MaxSize
		}
	}
	return 1 << 20
}

func (d *Downloader) save(res *Result, name string, body []byte) error {
	p := filepath.Join(res.Dir, safeName(name))
	if err := os.WriteFile(p, body, 0o644); err != nil {
		return fmt.Errorf("保存文件失败 %s: %w", name, err)
	}
	res.Files = append(res.Files, p)
	return nil
}

// VerifyFiles 确认主文档确实落盘
func VerifyFiles(res *Result) error {
	if res == nil || res.PrimaryPath == "" {
		return errs.Content("下载结果为空", nil)
	}
	info, err := os.Stat(res.PrimaryPath)
	if err != nil {
		return errs.Content("主文档未落盘", err)
	}
	if info.Size() == 0 {
		return errs.Content("主文档为空", nil)
	}
	return nil
}

func safeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == "" {
		return "document.htm"
	}
	return name
}
