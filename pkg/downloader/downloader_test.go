package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"FilingRadar/pkg/errs"
	"FilingRadar/pkg/model"
)

const archives = "https://www.sec.gov/Archives/edgar/data"

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string][]byte
	calls []string
}

func (f *fakeFetcher) Get(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if body, ok := f.pages[url]; ok {
		return body, nil
	}
	return nil, fmt.Errorf("%w: %s", errs.ErrNotFound, url)
}

func indexRow(seq int, desc, name, typ string, size int) string {
	return fmt.Sprintf(`<tr><td>%d</td><td>%s</td><td><a href="/Archives/edgar/data/320193/000032019324000123/%s">%s</a></td><td>%s</td><td>%d</td></tr>`,
		seq, desc, name, name, typ, size)
}

func indexPage(rows ...string) string {
	return `<html><body><table class="tableFile" summary="Document Format Files">
<tr><th>Seq</th><th>Description</th><th>Document</th><th>Type</th><th>Size</th></tr>` +
		strings.Join(rows, "\n") + `</table></body></html>`
}

func filingBody(title string) []byte {
	return []byte("<html><body><h1>" + title + "</h1><p>" + strings.Repeat("Revenue increased substantially during the fiscal year. ", 40) + "</p></body></html>")
}

func TestParseIndexResolvesIXBRLLinks(t *testing.T) {
	html := `<table class="tableFile">
<tr><th>Seq</th><th>Description</th><th>Document</th><th>Type</th><th>Size</th></tr>
<tr><td>1</td><td>10-K</td><td><a href="/ix?doc=/Archives/edgar/data/320193/000032019324000123/aapl-20240928.htm">aapl-20240928.htm</a> iXBRL</td><td>10-K</td><td>1,234,567</td></tr>
<tr><td>2</td><td>EX-21.1</td><td><a href="/Archives/edgar/data/320193/000032019324000123/a10-kexhibit2111.htm">a10-kexhibit2111.htm</a></td><td>EX-21.1</td><td>3000</td></tr>
</table>`
	docs := ParseIndex(html, "https://www.sec.gov/Archives/edgar/data/320193/000032019324000123/0000320193-24-000123-index.htm")
	if len(docs) != 2 {
		t.Fatalf("ParseIndex() = %d docs, want 2", len(docs))
	}
	want := "https://www.sec.gov/Archives/edgar/data/320193/000032019324000123/aapl-20240928.htm"
	if docs[0].URL != want {
		t.Errorf("URL = %s, want %s", docs[0].URL, want)
	}
	if docs[0].Name != "aapl-20240928.htm" || docs[0].Size != 1234567 || docs[0].Sequence != 1 {
		t.Errorf("doc = %+v", docs[0])
	}
}

func TestSelectPrimary(t *testing.T) {
	tests := []struct {
		name string
		form model.FilingType
		docs []Document
		want string
	}{
		{
			name: "10-K main document beats exhibits and graphics",
			form: model.FilingType10K,
			docs: []Document{
				{Sequence: 1, Name: "aapl-20240928.htm", Type: "10-K", Description: "10-K", Size: 900_000},
				{Sequence: 2, Name: "aapl-ex211.htm", Type: "EX-21.1", Size: 5_000},
				{Sequence: 3, Name: "logo.jpg", Type: "GRAPHIC", Size: 20_000},
				{Sequence: 4, Name: "R1.htm", Type: "XML", Size: 20_000},
			},
			want: "aapl-20240928.htm",
		},
		{
			name: "S-1 skips fee exhibit even when listed first",
			form: model.FilingTypeS1,
			docs: []Document{
				{Sequence: 1, Name: "ex-filingfees.htm", Type: "EX-FILING FEES", Description: "Filing Fee Table", Size: 40_000},
				{Sequence: 2, Name: "forms-1.htm", Type: "S-1", Description: "Registration Statement", Size: 2_500_000},
				{Sequence: 3, Name: "ex3-1.htm", Type: "EX-3.1", Size: 80_000},
			},
			want: "forms-1.htm",
		},
		{
			name: "S-1 size breaks ties",
			form: model.FilingTypeS1,
			docs: []Document{
				{Sequence: 2, Name: "a.htm", Type: "S-1", Size: 100},
				{Sequence: 2, Name: "b.htm", Type: "S-1", Size: 200},
			},
			want: "b.htm",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectPrimary(tt.docs, tt.form)
			if !ok {
				t.Fatal("SelectPrimary() found nothing")
			}
			if got.Name != tt.want {
				t.Errorf("SelectPrimary() = %s, want %s", got.Name, tt.want)
			}
		})
	}
}

func TestSelectExhibitsPriorityOrder(t *testing.T) {
	docs := []Document{
		{Sequence: 1, Name: "form8-k.htm", Type: "8-K", Size: 30_000},
		{Sequence: 2, Name: "ex10-12.htm", Type: "EX-10.12", Size: 50_000},
		{Sequence: 3, Name: "ex10-1.htm", Type: "EX-10.1", Size: 50_000},
		{Sequence: 4, Name: "ex99-2.htm", Type: "EX-99.2", Size: 50_000},
		{Sequence: 5, Name: "ex99-1.htm", Type: "EX-99.1", Size: 50_000},
		{Sequence: 6, Name: "ex10-2.htm", Type: "EX-10.2", Size: 3 << 20}, // 超过2MB上限
		{Sequence: 7, Name: "ex99-3.pdf", Type: "EX-99.3", Size: 10_000},
	}

	got := SelectExhibits(docs, 5)
	wantNames := []string{"ex99-2.htm", "ex99-1.htm", "ex10-1.htm", "ex10-12.htm"}
	if len(got) != len(wantNames) {
		t.Fatalf("SelectExhibits() = %d exhibits, want %d: %+v", len(got), len(wantNames), got)
	}
	for i, name := range wantNames {
		if got[i].Name != name {
			t.Errorf("exhibit[%d] = %s, want %s", i, got[i].Name, name)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].Priority > got[i-1].Priority {
			t.Errorf("exhibits not sorted by descending priority: %+v", got)
		}
	}

	if capped := SelectExhibits(docs, 2); len(capped) != 2 {
		t.Errorf("max count not applied: %d", len(capped))
	}
}

func TestValidateContent(t *testing.T) {
	viewer := []byte(`<html><head><title>Inline XBRL Viewer</title><script src="ixviewer/js/app.js"></script></head><body>` +
		strings.Repeat(" ", 600) + `Loading</body></html>`)
	fee := []byte("<html><body><h1>Calculation of Filing Fee Tables</h1><table><tr><td>Maximum Aggregate Offering Price</td><td>$100,000,000</td></tr><tr><td>Amount of Registration Fee</td><td>$14,760</td></tr></table>" +
		strings.Repeat("<p>Fee Rate 0.0001476</p>", 20) + "</body></html>")

	tests := []struct {
		name    string
		body    []byte
		form    model.FilingType
		wantErr bool
	}{
		{"good document", filingBody("Annual Report"), model.FilingType10K, false},
		{"too small", []byte("<html></html>"), model.FilingType10K, true},
		{"viewer shell", viewer, model.FilingType10K, true},
		{"fee table for S-1", fee, model.FilingTypeS1, true},
		{"fee words allowed outside S-1", fee, model.FilingType8K, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContent(tt.body, tt.form, "doc.htm")
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateContent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && errs.KindOf(err) != errs.KindContent {
				t.Errorf("error kind = %s, want content", errs.KindOf(err))
			}
		})
	}
}

func TestDownload8KWithExhibits(t *testing.T) {
	acc := "0000320193-24-000123"
	fetcher := &fakeFetcher{pages: map[string][]byte{
		archives + "/320193/000032019324000123/" + acc + "-index.htm": []byte(indexPage(
			indexRow(1, "8-K", "aapl-8k.htm", "8-K", 30_000),
			indexRow(2, "Press release", "aapl-ex991.htm", "EX-99.1", 20_000),
			indexRow(3, "Agreement", "aapl-ex101.htm", "EX-10.1", 20_000),
		)),
		"https://www.sec.gov/Archives/edgar/data/320193/000032019324000123/aapl-8k.htm": filingBody("Current Report Item 2.02"),
		"https://www.sec.gov/Archives/edgar/data/320193/000032019324000123/aapl-ex991.htm": filingBody("Press Release"),
	}}

	dataDir := t.TempDir()
	d := NewDownloader(fetcher, archives, dataDir, 2, nil)

	res, err := d.Download(context.Background(), "0000320193", acc, model.FilingType8K)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	wantDir := filepath.Join(dataDir, "0000320193", "000032019324000123")
	if res.Dir != wantDir {
		t.Errorf("Dir = %s, want %s", res.Dir, wantDir)
	}
	for _, name := range []string{"index.htm", "aapl-8k.htm", "aapl-ex991.htm"} {
		if _, err := os.Stat(filepath.Join(wantDir, name)); err != nil {
			t.Errorf("expected %s on disk: %v", name, err)
		}
	}
	// EX-10.1 下载失败不影响主文档
	if len(res.Exhibits) != 1 || res.Exhibits[0].Name != "aapl-ex991.htm" {
		t.Errorf("Exhibits = %+v", res.Exhibits)
	}
	if err := VerifyFiles(res); err != nil {
		t.Errorf("VerifyFiles() = %v", err)
	}
	if got := res.ExhibitPaths(CategoryPressRelease); len(got) != 1 || got[0] != filepath.Join(wantDir, "aapl-ex991.htm") {
		t.Errorf("ExhibitPaths(press_release) = %v", got)
	}
	if got := res.ExhibitPaths(CategoryMaterialContract); len(got) != 0 {
		t.Errorf("ExhibitPaths(material_contract) = %v", got)
	}
}

func TestDownloadRejectsViewerShellAndFallsBack(t *testing.T) {
	acc := "0000320193-24-000124"
	base := archives + "/320193/000032019324000124/"
	viewer := []byte(`<html><head><title>Inline XBRL Viewer</title></head><body>` + strings.Repeat(" ", 600) + `<script>loadViewer()</script></body></html>`)
	fetcher := &fakeFetcher{pages: map[string][]byte{
		base + acc + "-index.htm": []byte(strings.ReplaceAll(indexPage(
			indexRow(1, "10-Q", "main.htm", "10-Q", 500_000),
			indexRow(2, "10-Q text", "main.txt", "10-Q", 400_000),
		), "000032019324000123", "000032019324000124")),
		base + "main.htm": viewer,
		base + "main.txt": filingBody("Quarterly Report"),
	}}

	d := NewDownloader(fetcher, archives, t.TempDir(), 2, nil)
	res, err := d.Download(context.Background(), "0000320193", acc, model.FilingType10Q)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if res.Primary.Name != "main.txt" {
		t.Errorf("Primary = %s, want main.txt", res.Primary.Name)
	}
	if _, err := os.Stat(filepath.Join(res.Dir, "main.htm")); err == nil {
		t.Error("viewer shell must not be saved")
	}
}

func TestDownloadAllCandidatesBad(t *testing.T) {
	acc := "0000320193-24-000125"
	base := archives + "/320193/000032019324000125/"
	fetcher := &fakeFetcher{pages: map[string][]byte{
		base + acc + "-index.htm": []byte(strings.ReplaceAll(indexPage(
			indexRow(1, "10-K", "tiny.htm", "10-K", 10),
		), "000032019324000123", "000032019324000125")),
		base + "tiny.htm": []byte("<html>tiny</html>"),
	}}

	d := NewDownloader(fetcher, archives, t.TempDir(), 1, nil)
	_, err := d.Download(context.Background(), "0000320193", acc, model.FilingType10K)
	if err == nil {
		t.Fatal("Download() expected error")
	}
	if errs.KindOf(err) != errs.KindContent {
		t.Errorf("error kind = %s, want content (%v)", errs.KindOf(err), err)
	}
}
