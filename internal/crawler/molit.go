package crawler

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"rentradar/internal/domain"
	"rentradar/internal/fetch"
)

// DefaultMolitEndpoint is the apartment rent endpoint of the public data
// portal (data.go.kr).
const DefaultMolitEndpoint = "http://openapi.molit.go.kr/OpenAPI_ToolInstall498/service/rest/RTMSDataSvcAptRent/getRTMSDataSvcAptRent"

const molitPageSize = 1000

// PublicAPIConfig carries the per-deployment knobs of the MOLIT crawler.
type PublicAPIConfig struct {
	Endpoint    string
	APIKey      string
	Regions     []string
	FetchMonths int
}

// PublicAPI fetches official apartment rent trades, paging through each
// region and contract month. With no API key configured it produces
// deterministic mock rows so the rest of the pipeline stays exercisable.
type PublicAPI struct {
	client *fetch.Client
	cfg    PublicAPIConfig
	logger *zap.Logger

	// now is swapped out by tests to pin the month window.
	now func() time.Time
}

func NewPublicAPI(client *fetch.Client, cfg PublicAPIConfig, logger *zap.Logger) *PublicAPI {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultMolitEndpoint
	}
	if cfg.FetchMonths <= 0 {
		cfg.FetchMonths = 1
	}
	return &PublicAPI{client: client, cfg: cfg, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (p *PublicAPI) Source() string { return domain.SourcePublicAPI }

func (p *PublicAPI) Run(ctx context.Context, req domain.TaskRequest, stats *domain.RunStats) (*Result, error) {
	if p.cfg.APIKey == "" {
		return p.mockResult(req), nil
	}

	regions := req.Regions
	if len(regions) == 0 {
		regions = p.cfg.Regions
	}
	result := &Result{}

	for _, regionCode := range regions {
		for _, dealYMD := range p.targetMonths(req.Months) {
			for page := 1; ; page++ {
				if err := ctx.Err(); err != nil {
					return nil, err
				}

				params := url.Values{}
				params.Set("serviceKey", p.cfg.APIKey)
				params.Set("LAWD_CD", regionCode)
				params.Set("DEAL_YMD", dealYMD)
				params.Set("pageNo", strconv.Itoa(page))
				params.Set("numOfRows", strconv.Itoa(molitPageSize))

				res, err := p.client.Get(ctx, p.cfg.Endpoint, params, stats)
				if err != nil {
					return nil, err
				}
				if res == nil {
					break
				}

				var envelope molitEnvelope
				if err := xml.Unmarshal(res.Body, &envelope); err != nil {
					p.logger.Warn("molit response is not valid xml",
						zap.String("region_code", regionCode),
						zap.String("deal_ymd", dealYMD), zap.Error(err))
					break
				}
				if len(envelope.Items) == 0 {
					break
				}

				result.RawCount += len(envelope.Items)
				for _, item := range envelope.Items {
					trade, ok := p.parseItem(regionCode, item)
					if !ok {
						result.InvalidCount++
						continue
					}
					result.Trades = append(result.Trades, trade)
				}

				p.logger.Info("molit trade page fetched",
					zap.String("region_code", regionCode),
					zap.String("deal_ymd", dealYMD),
					zap.Int("page", page),
					zap.Int("items", len(envelope.Items)))

				// A short page is the last page.
				if len(envelope.Items) < molitPageSize {
					break
				}
			}
		}
	}
	return result, nil
}

type molitEnvelope struct {
	Items []molitItem `xml:"body>items>item"`
}

type molitItem struct {
	DealYear    string `xml:"dealYear"`
	DealMonth   string `xml:"dealMonth"`
	DealDay     string `xml:"dealDay"`
	Deposit     string `xml:"deposit"`
	MonthlyRent string `xml:"monthlyRent"`
	Dong        string `xml:"umdNm"`
	AptName     string `xml:"aptNm"`
	AreaM2      string `xml:"excluUseAr"`
	Floor       string `xml:"floor"`
}

// parseItem maps one trade row. Rows without a contract year and month are
// unusable and count as invalid; a missing day falls back to the first.
func (p *PublicAPI) parseItem(regionCode string, item molitItem) (domain.RealTrade, bool) {
	year := molitInt(item.DealYear, 0)
	month := molitInt(item.DealMonth, 0)
	if year <= 0 || month <= 0 {
		return domain.RealTrade{}, false
	}

	monthlyRent := molitInt(item.MonthlyRent, 0)
	rentType := domain.RentJeonse
	if monthlyRent > 0 {
		rentType = domain.RentMonthly
	}

	return domain.RealTrade{
		PropertyType:  domain.PropertyApt,
		RentType:      rentType,
		TradeCategory: domain.TradeCategoryRent,
		RegionCode:    regionCode,
		Dong:          strings.TrimSpace(item.Dong),
		AptName:       strings.TrimSpace(item.AptName),
		Deposit:       molitInt(item.Deposit, 0),
		MonthlyRent:   monthlyRent,
		AreaM2:        molitFloat(item.AreaM2),
		Floor:         molitInt(item.Floor, 0),
		ContractYear:  year,
		ContractMonth: month,
		ContractDay:   molitInt(item.DealDay, 1),
	}, true
}

// targetMonths yields DEAL_YMD values from the current month backwards.
func (p *PublicAPI) targetMonths(months int) []string {
	if months <= 0 {
		months = p.cfg.FetchMonths
	}
	now := p.now()
	out := make([]string, 0, months)
	for offset := 0; offset < months; offset++ {
		year, month := shiftMonth(now.Year(), int(now.Month()), offset)
		out = append(out, fmt.Sprintf("%04d%02d", year, month))
	}
	return out
}

func shiftMonth(year, month, delta int) (int, int) {
	for i := 0; i < delta; i++ {
		month--
		if month < 1 {
			month = 12
			year--
		}
	}
	return year, month
}

func (p *PublicAPI) mockResult(req domain.TaskRequest) *Result {
	regions := req.Regions
	if len(regions) == 0 {
		regions = p.cfg.Regions
	}
	months := req.Months
	if months <= 0 {
		months = p.cfg.FetchMonths
	}

	now := p.now()
	result := &Result{}
	for _, regionCode := range regions {
		for offset := 0; offset < months; offset++ {
			year, month := shiftMonth(now.Year(), int(now.Month()), offset)
			for i := 0; i < 3; i++ {
				rentType := domain.RentJeonse
				monthlyRent := 0
				if i%2 == 1 {
					rentType = domain.RentMonthly
					monthlyRent = 50 * (i + 1) * 10000
				}
				result.Trades = append(result.Trades, domain.RealTrade{
					PropertyType:  domain.PropertyApt,
					RentType:      rentType,
					TradeCategory: domain.TradeCategoryRent,
					RegionCode:    regionCode,
					Dong:          fmt.Sprintf("법정동%d", i+1),
					AptName:       fmt.Sprintf("테스트아파트%d", i+1),
					Deposit:       50000 * (i + 1) * 10000,
					MonthlyRent:   monthlyRent,
					AreaM2:        float64(80 + i*10),
					Floor:         5 + i,
					ContractYear:  year,
					ContractMonth: month,
					ContractDay:   15,
				})
			}
		}
	}
	result.RawCount = len(result.Trades)
	p.logger.Info("public data api key not configured, generated mock trades",
		zap.Int("rows", len(result.Trades)))
	return result
}

// molitInt parses the portal's padded numerics ("    24,000", "-"). Dashes
// are filler, not signs.
func molitInt(value string, def int) int {
	cleaned := strings.NewReplacer(",", "", " ", "", "-", "").Replace(value)
	if cleaned == "" {
		return def
	}
	n, err := strconv.Atoi(cleaned)
	if err != nil {
		return def
	}
	return n
}

func molitFloat(value string) float64 {
	cleaned := strings.NewReplacer(",", "", " ", "").Replace(value)
	if cleaned == "" {
		return 0
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return f
}
