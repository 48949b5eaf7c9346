package scanner

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/samber/lo"

	"FilingRadar/pkg/edgar"
)

// SnapshotCompany 成分股快照中的一家公司
type SnapshotCompany struct {
	CIK      string `json:"cik"`
	Name     string `json:"name"`
	Ticker   string `json:"ticker"`
	Sector   string `json:"sector,omitempty"`
	Industry string `json:"industry,omitempty"`
}

// Universe 随程序发布的S&P 500快照，按CIK索引
type Universe struct {
	byCIK map[string]SnapshotCompany
}

// LoadUniverse 读取 {"companies":[...]} 格式的快照文件
func LoadUniverse(path string) (*Universe, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取成分股快照失败: %w", err)
	}
	var doc struct {
		Companies []SnapshotCompany `json:"companies"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("解析成分股快照失败: %w", err)
	}
	return NewUniverse(doc.Companies), nil
}

// NewUniverse 由公司列表构造快照，CIK统一补零到10位
func NewUniverse(companies []SnapshotCompany) *Universe {
	valid := lo.Filter(companies, func(c SnapshotCompany, _ int) bool {
		return c.CIK != "" && edgar.ValidCIK(edgar.PadCIK(c.CIK))
	})
	return &Universe{byCIK: lo.SliceToMap(valid, func(c SnapshotCompany) (string, SnapshotCompany) {
		c.CIK = edgar.PadCIK(c.CIK)
		return c.CIK, c
	})}
}

// Lookup 按CIK查找
func (u *Universe) Lookup(cik string) (SnapshotCompany, bool) {
	if u == nil {
		return SnapshotCompany{}, false
	}
	c, ok := u.byCIK[edgar.PadCIK(cik)]
	return c, ok
}

func (u *Universe) CIKs() []string {
	if u == nil {
		return nil
	}
	return lo.Keys(u.byCIK)
}

func (u *Universe) Len() int {
	if u == nil {
		return 0
	}
	return len(u.byCIK)
}
