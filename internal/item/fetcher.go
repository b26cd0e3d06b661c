// Package item はCRMレコードの取得とIntegrationItemへの正規化を提供する。
package item

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/crmlink/internal/model"
)

const (
	// DefaultAPIBaseURL はCRM APIの既定ベースURL。
	DefaultAPIBaseURL = "https://api.hubapi.com"
	// MaxPageSize はobjects APIが1リクエストで返す上限件数。
	MaxPageSize = 100

	defaultFetchTimeout = 10 * time.Second
	maxResponseBytes    = 10 << 20
)

// MetricsRecorder はエンティティ取得のメトリクス記録のインターフェース。
type MetricsRecorder interface {
	RecordEntityFetch(itemType string, result string, duration time.Duration)
	RecordItemsFetched(itemType string, count int)
}

type noopMetrics struct{}

func (noopMetrics) RecordEntityFetch(string, string, time.Duration) {}
func (noopMetrics) RecordItemsFetched(string, int)                  {}

// FetcherConfig はFetcherの設定。
type FetcherConfig struct {
	APIBaseURL string
	AppBaseURL string
	// PageSize は1種別あたりの取得件数。1..MaxPageSizeに丸める。
	PageSize int
	// Timeout は1種別のリクエストあたりの上限時間。
	Timeout time.Duration
}

// EntityFailure は1種別の取得失敗を表す。
type EntityFailure struct {
	Type       model.ItemType `json:"type"`
	Kind       FailureKind    `json:"kind"`
	Reason     string         `json:"reason"`
	StatusCode int            `json:"status_code,omitempty"`
}

// FetchResult はFetchItemsの戻り値。
// ある種別の取得に失敗した場合、その種別のアイテムは含まれずFailuresに理由が残る。
type FetchResult struct {
	Items    []model.IntegrationItem `json:"items"`
	Failures []EntityFailure         `json:"failures"`
	// NextAfter は続きのページが存在する種別の継続カーソル。
	// 2ページ目以降は取得しない。
	NextAfter map[model.ItemType]string `json:"next_after,omitempty"`
}

// Fetcher はCRMからcontacts/companies/dealsを取得する。
type Fetcher struct {
	client     *http.Client
	normalizer *Normalizer
	metrics    MetricsRecorder
	logger     *slog.Logger
	config     FetcherConfig
}

// NewFetcher はFetcherを生成する。clientがnilの場合はhttp.DefaultClientを使う。
func NewFetcher(
	client *http.Client,
	normalizer *Normalizer,
	metrics MetricsRecorder,
	logger *slog.Logger,
	config FetcherConfig,
) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if normalizer == nil {
		normalizer = NewNormalizer(config.AppBaseURL, nil, nil)
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.APIBaseURL == "" {
		config.APIBaseURL = DefaultAPIBaseURL
	}
	config.APIBaseURL = strings.TrimRight(config.APIBaseURL, "/")
	config.PageSize = ClampPageSize(config.PageSize)
	if config.Timeout <= 0 {
		config.Timeout = defaultFetchTimeout
	}
	return &Fetcher{
		client:     client,
		normalizer: normalizer,
		metrics:    metrics,
		logger:     logger,
		config:     config,
	}
}

// ClampPageSize はページサイズを1..MaxPageSizeに収める。0以下は上限値とする。
func ClampPageSize(size int) int {
	if size <= 0 || size > MaxPageSize {
		return MaxPageSize
	}
	return size
}

// entityPage は1種別の取得結果。
type entityPage struct {
	items     []model.IntegrationItem
	failure   *EntityFailure
	nextAfter string
}

// FetchItems は3種別を並行に取得し、contacts→companies→dealsの順で結合する。
// 種別ごとの失敗はエラーにせずFetchResult.Failuresへ記録する。
// 資格情報が不正な場合のみエラーを返す。
func (f *Fetcher) FetchItems(ctx context.Context, creds *model.CredentialBundle) (*FetchResult, error) {
	if creds == nil || creds.AccessToken == "" {
		return nil, model.ErrEmptyAccessToken
	}

	pages := make([]entityPage, len(entityRules))
	g, gctx := errgroup.WithContext(ctx)
	for i, rule := range entityRules {
		g.Go(func() error {
			pages[i] = f.fetchEntity(gctx, creds.AccessToken, rule)
			return nil
		})
	}
	// 各goroutineはエラーを返さない
	_ = g.Wait()

	result := &FetchResult{
		Items:    []model.IntegrationItem{},
		Failures: []EntityFailure{},
	}
	for i, page := range pages {
		rule := entityRules[i]
		if page.failure != nil {
			result.Failures = append(result.Failures, *page.failure)
			continue
		}
		result.Items = append(result.Items, page.items...)
		if page.nextAfter != "" {
			if result.NextAfter == nil {
				result.NextAfter = make(map[model.ItemType]string)
			}
			result.NextAfter[rule.itemType] = page.nextAfter
		}
	}

	f.logSummary(result)
	return result, nil
}

type objectsResponse struct {
	Results []hubspotObject `json:"results"`
	Paging  *struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

func (f *Fetcher) fetchEntity(ctx context.Context, accessToken string, rule entityRule) entityPage {
	start := time.Now()
	itemType := string(rule.itemType)

	fail := func(kind FailureKind, reason string, status int) entityPage {
		f.metrics.RecordEntityFetch(itemType, "failure", time.Since(start))
		f.logger.Warn("CRMレコードの取得に失敗しました",
			slog.String("type", itemType),
			slog.String("kind", string(kind)),
			slog.Int("http_status", status),
			slog.String("reason", reason),
		)
		return entityPage{failure: &EntityFailure{Type: rule.itemType, Kind: kind, Reason: reason, StatusCode: status}}
	}

	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.objectsURL(rule), nil)
	if err != nil {
		return fail(FailureTransport, fmt.Sprintf("リクエスト作成に失敗: %v", err), 0)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fail(classifyTransportError(err), fmt.Sprintf("HTTPリクエスト失敗: %v", err), 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return fail(ClassifyHTTPStatus(resp.StatusCode), fmt.Sprintf("HTTPステータス %d", resp.StatusCode), resp.StatusCode)
	}

	var body objectsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return fail(FailureDecode, fmt.Sprintf("レスポンスのデコードに失敗: %v", err), resp.StatusCode)
	}

	items := make([]model.IntegrationItem, 0, len(body.Results))
	for _, obj := range body.Results {
		items = append(items, f.normalizer.normalize(rule, obj))
	}

	f.metrics.RecordEntityFetch(itemType, "success", time.Since(start))
	f.metrics.RecordItemsFetched(itemType, len(items))

	page := entityPage{items: items}
	if body.Paging != nil && body.Paging.Next != nil {
		page.nextAfter = body.Paging.Next.After
	}
	return page
}

func (f *Fetcher) objectsURL(rule entityRule) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(f.config.PageSize))
	return fmt.Sprintf("%s/crm/v3/objects/%s?%s", f.config.APIBaseURL, rule.path, q.Encode())
}

// logSummary は種別ごとの件数をログに出力する。
func (f *Fetcher) logSummary(result *FetchResult) {
	counts := make(map[model.ItemType]int, len(entityRules))
	for _, it := range result.Items {
		counts[it.Type]++
	}
	failed := make([]string, 0, len(result.Failures))
	for _, fl := range result.Failures {
		failed = append(failed, string(fl.Type))
	}
	f.logger.Info("CRMレコードを取得しました",
		slog.Int("contacts", counts[model.ItemTypeContact]),
		slog.Int("companies", counts[model.ItemTypeCompany]),
		slog.Int("deals", counts[model.ItemTypeDeal]),
		slog.Int("total", len(result.Items)),
		slog.Any("failed_types", failed),
	)
}
