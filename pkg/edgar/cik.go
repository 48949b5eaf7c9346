package edgar

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	accessionRe = regexp.MustCompile(`^\d{10}-\d{2}-\d{6}$`)
	digitsRe    = regexp.MustCompile(`^\d{1,10}$`)
)

// PadCIK 补零到10位
func PadCIK(cik string) string {
	cik = strings.TrimSpace(cik)
	if len(cik) >= 10 {
		return cik
	}
	return strings.Repeat("0", 10-len(cik)) + cik
}

// TrimCIK 去掉前导零，用于归档路径
func TrimCIK(cik string) string {
	t := strings.TrimLeft(strings.TrimSpace(cik), "0")
	if t == "" {
		return "0"
	}
	return t
}

// ValidAccession 检查 ##########-##-###### 格式
func ValidAccession(acc string) bool {
	return accessionRe.MatchString(acc)
}

// ValidCIK 纯数字且不超过10位
func ValidCIK(cik string) bool {
	return digitsRe.MatchString(cik)
}

// AccessionNoDashes 去掉横线，作为目录名
func AccessionNoDashes(acc string) string {
	return strings.ReplaceAll(acc, "-", "")
}

// FilingDir 归档目录地址
func FilingDir(archivesURL, cik, accession string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(archivesURL, "/"), TrimCIK(cik), AccessionNoDashes(accession))
}

// IndexURLVariants 依次尝试的索引页地址
func IndexURLVariants(archivesURL, cik, accession string) []string {
	base := strings.TrimRight(archivesURL, "/")
	noDash := AccessionNoDashes(accession)
	return []string{
		fmt.Sprintf("%s/%s/%s/%s-index.htm", base, TrimCIK(cik), noDash, accession),
		fmt.Sprintf("%s/%s/%s/%s-index.html", base, TrimCIK(cik), noDash, accession),
		fmt.Sprintf("%s/%s/%s/%s-index.htm", base, PadCIK(cik), noDash, accession),
		fmt.Sprintf("%s/%s/%s/", base, TrimCIK(cik), noDash),
	}
}
