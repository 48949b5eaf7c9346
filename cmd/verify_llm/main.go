package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"FilingRadar/pkg/analysis"
	"FilingRadar/pkg/app"
	"FilingRadar/pkg/extractor"
	"FilingRadar/pkg/llm"
	"FilingRadar/pkg/model"
)

const sample8K = `UNITED STATES SECURITIES AND EXCHANGE COMMISSION
FORM 8-K
CURRENT REPORT

Item 5.02 Departure of Directors or Certain Officers; Election of Directors; Appointment of Certain Officers.

On October 1, 2024, the Board of Directors of Example Corp. appointed Jane Doe as Chief Financial Officer,
effective November 1, 2024. Ms. Doe previously served as Vice President of Finance. John Smith, the current
Chief Financial Officer, will remain with the Company as an advisor through December 31, 2024.

Item 9.01 Financial Statements and Exhibits.
`

func main() {
	log.Println("开始验证大模型接入...")

	cfg, logger, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("加载配置失败: %v\n", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	completer, err := llm.New(ctx, llm.OptionsFromConfig(cfg))
	if err != nil {
		log.Fatalf("创建LLM客户端失败: %v\n", err)
	}

	// 测试简单问题
	testSimpleQuestion(ctx, completer)

	// 测试8-K分析
	testFilingAnalysis(ctx, completer)

	log.Println("大模型验证完成")
}

func testSimpleQuestion(ctx context.Context, completer llm.Completer) {
	log.Printf("测试简单问题 (%s)...\n", completer.Model())

	response, err := completer.Complete(ctx, llm.Request{
		System:    "You are a concise assistant.",
		User:      "In one sentence, what is an SEC Form 8-K?",
		MaxTokens: 200,
	})
	if err != nil {
		log.Fatalf("测试失败: %v\n", err)
	}

	fmt.Println("\n===== 简单问题测试结果 =====")
	fmt.Println(response)
	fmt.Println("===========================")
}

func testFilingAnalysis(ctx context.Context, completer llm.Completer) {
	log.Println("测试8-K分析...")

	ext := extractor.New(nil)
	res := ext.ExtractContent(sample8K, "sample-8k.txt")
	if !res.OK() {
		log.Fatalf("提取样例文本失败: %s\n", res.Error)
	}

	ticker := "EXMP"
	company := &model.Company{CIK: "0000000001", Name: "Example Corp.", Ticker: &ticker}
	filing := &model.Filing{
		AccessionNumber: "0000000001-24-000001",
		FilingType:      model.FilingType8K,
		FormType:        "8-K",
		FilingDate:      time.Now(),
		Ticker:          ticker,
	}

	proc := analysis.NewProcessor(completer, ext, nil, analysis.Options{ContentLimit: 45000, Temperature: 0.3}, nil)
	a, err := proc.AnalyzeExtracted(ctx, filing, company, res)
	if err != nil {
		log.Fatalf("测试失败: %v\n", err)
	}

	html, err := analysis.RenderHTML(a.Narrative)
	if err != nil {
		log.Printf("渲染分析失败: %v\n", err)
	}

	fmt.Println("\n===== 8-K分析测试结果 =====")
	fmt.Println(a.Narrative)
	fmt.Printf("\n摘要: %s\n语气: %s\n标签: %s\n事件: %s\nHTML长度: %d\n",
		a.FeedSummary, a.Tone, strings.Join(a.Tags, " "), a.EventType, len(html))
	fmt.Println("===========================")
}
