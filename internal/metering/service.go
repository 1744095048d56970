package metering

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/csgtools/csgmeter/internal/csg"
)

// Service builds the typed read operations from ApiClient primitives.
// It performs no tariff arithmetic: every figure is vendor-reported and
// passed through as a fixed-point decimal.
type Service struct {
	client *csg.Client
	logger *logrus.Logger
	now    func() time.Time
}

// NewService wraps the given client.
func NewService(client *csg.Client, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{client: client, logger: logger, now: time.Now}
}

func schemaErr(op, field string) error {
	return fmt.Errorf("%s: %w: missing or invalid %q", op, csg.ErrMalformedPayload, field)
}

type surplusPayload struct {
	Balance decimal.NullDecimal `json:"balance"`
	Arrears decimal.NullDecimal `json:"arrears"`
}

// BalanceAndArrears fetches the account balance snapshot.
func (s *Service) BalanceAndArrears(ctx context.Context, account csg.ElectricityAccount) (Balance, error) {
	payload := map[string]any{
		"areaCode":  account.AreaCode,
		"eleCustId": account.EleCustomerID,
	}
	var res []surplusPayload
	if err := s.client.Call(ctx, csg.OpQuerySurplus, payload, &res); err != nil {
		return Balance{}, err
	}
	if len(res) == 0 {
		return Balance{}, schemaErr(csg.OpQuerySurplus, "balance")
	}
	if !res[0].Balance.Valid || !res[0].Arrears.Valid {
		return Balance{}, schemaErr(csg.OpQuerySurplus, "balance/arrears")
	}
	return Balance{
		Balance: res[0].Balance.Decimal,
		Arrears: res[0].Arrears.Decimal,
		AsOf:    s.now(),
	}, nil
}

type dayUsagePayload struct {
	TotalPower decimal.NullDecimal `json:"totalPower"`
	Result     []struct {
		Date  string              `json:"date"`
		Power decimal.NullDecimal `json:"power"`
	} `json:"result"`
}

// DailyUsage fetches the per-day kWh series for the current or
// previous calendar month. AsOf is the newest published reading's
// date; the vendor lags the wall clock by two or more days.
func (s *Service) DailyUsage(ctx context.Context, account csg.ElectricityAccount, period Period) (DailySeries, error) {
	year, month := s.selectMonth(period)
	payload := map[string]any{
		"areaCode":        account.AreaCode,
		"eleCustId":       account.EleCustomerID,
		"yearMonth":       fmt.Sprintf("%d%02d", year, month),
		"meteringPointId": account.MeteringPointID,
	}
	var res dayUsagePayload
	if err := s.client.Call(ctx, csg.OpQueryDayElectric, payload, &res); err != nil {
		return DailySeries{}, err
	}

	series := DailySeries{Year: year, Month: month, TotalKWh: res.TotalPower}
	for _, d := range res.Result {
		if !d.Power.Valid {
			return DailySeries{}, schemaErr(csg.OpQueryDayElectric, "power")
		}
		date, err := parseVendorDate(d.Date)
		if err != nil {
			return DailySeries{}, schemaErr(csg.OpQueryDayElectric, "date")
		}
		series.Days = append(series.Days, DailyReading{Date: date, EnergyKWh: d.Power.Decimal})
	}
	if last, ok := series.Latest(); ok {
		series.AsOf = last.Date
	}
	return series, nil
}

type dayChargePayload struct {
	TotalElectricity   decimal.NullDecimal `json:"totalElectricity"`
	TotalPower         decimal.NullDecimal `json:"totalPower"`
	LadderEle          *int                `json:"ladderEle"`
	LadderEleStartDate *string             `json:"ladderEleStartDate"`
	LadderEleSurplus   decimal.NullDecimal `json:"ladderEleSurplus"`
	LadderEleTariff    decimal.NullDecimal `json:"ladderEleTariff"`
	Result             []struct {
		Date   string              `json:"date"`
		Power  decimal.NullDecimal `json:"power"`
		Charge decimal.NullDecimal `json:"charge"`
	} `json:"result"`
}

// DailyCost fetches the per-day cost+usage series for the selected
// month. The same vendor call carries the ladder snapshot; see
// LadderStatus for fetching it alone.
func (s *Service) DailyCost(ctx context.Context, account csg.ElectricityAccount, period Period) (DailySeries, error) {
	res, year, month, err := s.queryDayCharge(ctx, account, period)
	if err != nil {
		return DailySeries{}, err
	}

	series := DailySeries{
		Year:      year,
		Month:     month,
		TotalKWh:  res.TotalPower,
		TotalCost: res.TotalElectricity,
	}
	for _, d := range res.Result {
		if !d.Power.Valid {
			return DailySeries{}, schemaErr(csg.OpQueryDayCharge, "power")
		}
		date, err := parseVendorDate(d.Date)
		if err != nil {
			return DailySeries{}, schemaErr(csg.OpQueryDayCharge, "date")
		}
		series.Days = append(series.Days, DailyReading{
			Date:      date,
			EnergyKWh: d.Power.Decimal,
			Cost:      d.Charge,
		})
	}
	if last, ok := series.Latest(); ok {
		series.AsOf = last.Date
	}
	return series, nil
}

// LadderStatus fetches the tiered-pricing snapshot. The vendor reports
// it on the current month's charge query regardless of the month asked
// for, so this always queries the current month.
func (s *Service) LadderStatus(ctx context.Context, account csg.ElectricityAccount) (LadderStatus, error) {
	res, _, _, err := s.queryDayCharge(ctx, account, PeriodCurrent)
	if err != nil {
		return LadderStatus{}, err
	}

	var status LadderStatus
	if res.LadderEle != nil {
		status.Tier = *res.LadderEle
	}
	if res.LadderEleStartDate != nil {
		start, err := parseVendorDate(*res.LadderEleStartDate)
		if err != nil {
			return LadderStatus{}, schemaErr(csg.OpQueryDayCharge, "ladderEleStartDate")
		}
		status.StartDate = start
	}
	status.RemainingKWh = res.LadderEleSurplus
	status.TierPrice = res.LadderEleTariff
	return status, nil
}

func (s *Service) queryDayCharge(ctx context.Context, account csg.ElectricityAccount, period Period) (dayChargePayload, int, time.Month, error) {
	year, month := s.selectMonth(period)
	payload := map[string]any{
		"areaCode":        account.AreaCode,
		"eleCustId":       account.EleCustomerID,
		"yearMonth":       fmt.Sprintf("%d%02d", year, month),
		"meteringPointId": account.MeteringPointID,
	}
	var res dayChargePayload
	if err := s.client.Call(ctx, csg.OpQueryDayCharge, payload, &res); err != nil {
		return dayChargePayload{}, 0, 0, err
	}
	return res, year, month, nil
}

type feeAnalyzePayload struct {
	TotalBillingElectricity decimal.NullDecimal `json:"totalBillingElectricity"`
	TotalActualAmount       decimal.NullDecimal `json:"totalActualAmount"`
	ElectricAndChargeList   []struct {
		YearMonth          string              `json:"yearMonth"`
		BillingElectricity decimal.NullDecimal `json:"billingElectricity"`
		ActualTotalAmount  decimal.NullDecimal `json:"actualTotalAmount"`
	} `json:"electricAndChargeList"`
}

// YearStats fetches a year's totals with the month-by-month breakdown.
// Both the monthly and yearly buckets are served by this one call.
func (s *Service) YearStats(ctx context.Context, account csg.ElectricityAccount, period Period) (YearStats, error) {
	year := s.now().Year()
	if period == PeriodPrevious {
		year--
	}
	payload := map[string]any{
		"areaCode":            account.AreaCode,
		"electricityBillYear": year,
		"eleCustId":           account.EleCustomerID,
		"meteringPointId":     nil, // the vendor sends null here
	}
	var res feeAnalyzePayload
	if err := s.client.Call(ctx, csg.OpGetFeeAnalyze, payload, &res); err != nil {
		return YearStats{}, err
	}
	if !res.TotalBillingElectricity.Valid || !res.TotalActualAmount.Valid {
		return YearStats{}, schemaErr(csg.OpGetFeeAnalyze, "totalBillingElectricity/totalActualAmount")
	}

	stats := YearStats{
		Year:      year,
		TotalKWh:  res.TotalBillingElectricity.Decimal,
		TotalCost: res.TotalActualAmount.Decimal,
	}
	for _, m := range res.ElectricAndChargeList {
		if !m.BillingElectricity.Valid || !m.ActualTotalAmount.Valid {
			return YearStats{}, schemaErr(csg.OpGetFeeAnalyze, "electricAndChargeList")
		}
		my, mm, err := parseYearMonth(m.YearMonth)
		if err != nil {
			return YearStats{}, schemaErr(csg.OpGetFeeAnalyze, "yearMonth")
		}
		stats.Months = append(stats.Months, MonthlyReading{
			Year:      my,
			Month:     mm,
			EnergyKWh: m.BillingElectricity.Decimal,
			Cost:      m.ActualTotalAmount.Decimal,
		})
	}
	return stats, nil
}

type yesterdayPayload struct {
	Power decimal.NullDecimal `json:"power"`
}

// YesterdayUsage fetches yesterday's consumption.
func (s *Service) YesterdayUsage(ctx context.Context, account csg.ElectricityAccount) (DailyReading, error) {
	payload := map[string]any{
		"areaCode":  account.AreaCode,
		"eleCustId": account.EleCustomerID,
	}
	var res yesterdayPayload
	if err := s.client.Call(ctx, csg.OpQueryYesterday, payload, &res); err != nil {
		return DailyReading{}, err
	}
	if !res.Power.Valid {
		return DailyReading{}, schemaErr(csg.OpQueryYesterday, "power")
	}
	y := s.now().AddDate(0, 0, -1)
	return DailyReading{
		Date:      time.Date(y.Year(), y.Month(), y.Day(), 0, 0, 0, 0, y.Location()),
		EnergyKWh: res.Power.Decimal,
	}, nil
}

// selectMonth maps a Period onto a concrete calendar month.
func (s *Service) selectMonth(period Period) (int, time.Month) {
	t := s.now()
	if period == PeriodPrevious {
		t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 0, -1)
	}
	return t.Year(), t.Month()
}

// parseVendorDate accepts the two date shapes the vendor emits.
func parseVendorDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04:05.0", "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func parseYearMonth(s string) (int, time.Month, error) {
	t, err := time.Parse("200601", s)
	if err != nil {
		return 0, 0, err
	}
	return t.Year(), t.Month(), nil
}
