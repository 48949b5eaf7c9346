package edgar

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CompanyInfo data.sec.gov submissions 返回的公司信息
type CompanyInfo struct {
	CIK            string   `json:"cik"`
	EntityType     string   `json:"entityType"`
	SIC            string   `json:"sic"`
	SICDescription string   `json:"sicDescription"`
	Name           string   `json:"name"`
	Tickers        []string `json:"tickers"`
	Exchanges      []string `json:"exchanges"`
}

// PrimaryTicker 第一个ticker，没有时为空
func (ci *CompanyInfo) PrimaryTicker() string {
	if len(ci.Tickers) == 0 {
		return ""
	}
	return strings.ToUpper(ci.Tickers[0])
}

// CompanyInfo 查询CIK对应的公司信息
func (c *Client) CompanyInfo(ctx context.Context, cik string) (*CompanyInfo, error) {
	u := fmt.Sprintf("%s/submissions/CIK%s.json", strings.TrimRight(c.opts.DataURL, "/"), PadCIK(cik))
	body, err := c.Get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("获取公司信息失败: %w", err)
	}

	var info CompanyInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("解析公司信息失败: %w", err)
	}
	if info.Name == "" {
		return nil, fmt.Errorf("公司信息缺少名称: %s", cik)
	}
	return &info, nil
}
