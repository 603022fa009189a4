package signals

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/aristath/signald/internal/domain"
)

const (
	// defaultRiskPercent applies when a sender omits risk sizing entirely.
	defaultRiskPercent = 0.01
	// minRiskPercent is the floor for zero or negative risk values.
	minRiskPercent = 0.001
	// neutralRelativeVolume treats unusable volume readings as average tape.
	neutralRelativeVolume = 1.0
	// maxVolatility caps annualized volatility at 1000%.
	maxVolatility = 10.0
)

// RawEvent is one inbound alert exactly as the boundary received it.
// ReceivedAt is stamped by the transport; nothing inside Payload is trusted
// until the normalizer has picked it apart.
type RawEvent struct {
	Sender     string          `json:"sender"`
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload"`
}

// PayloadShape describes how a sender wraps its alert JSON.
type PayloadShape string

const (
	// ShapeFlat senders put alert fields at the top level of the payload.
	ShapeFlat PayloadShape = "flat"
	// ShapeWrapped senders nest the alert object under an "alert" key,
	// with routing metadata as siblings.
	ShapeWrapped PayloadShape = "wrapped"
)

// flexFloat accepts JSON numbers and numeric strings. Alert templates
// interpolate prices as strings more often than not.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		if math.IsNaN(num) || math.IsInf(num, 0) {
			return fmt.Errorf("non-finite number %v", num)
		}
		*f = flexFloat(num)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	num, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
	if err != nil || math.IsNaN(num) || math.IsInf(num, 0) {
		return fmt.Errorf("cannot parse %q as a number", str)
	}
	*f = flexFloat(num)
	return nil
}

// flexString accepts JSON strings and bare numbers; 15 and "15" are the
// same timeframe as far as senders are concerned.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = flexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*s = flexString(num.String())
	return nil
}

// alertPayload is the superset of fields senders put on the wire. Alias
// fields exist because templates drift: symbol vs ticker, side vs direction,
// interval vs timeframe.
type alertPayload struct {
	Ticker    flexString `json:"ticker"`
	Symbol    flexString `json:"symbol"`
	Direction flexString `json:"direction"`
	Side      flexString `json:"side"`
	Timeframe flexString `json:"timeframe"`
	Interval  flexString `json:"interval"`
	Quality   flexString `json:"quality"`

	AIScore *flexFloat `json:"ai_score"`
	Score   *flexFloat `json:"score"`

	Price      *flexFloat `json:"price"`
	Entry      *flexFloat `json:"entry"`
	Stop       *flexFloat `json:"stop"`
	StopLoss   *flexFloat `json:"stop_loss"`
	Target     *flexFloat `json:"target"`
	TakeProfit *flexFloat `json:"take_profit"`

	RiskPercent    *flexFloat `json:"risk_percent"`
	TrendScore     *flexFloat `json:"trend_score"`
	RelativeVolume *flexFloat `json:"relative_volume"`
	VWAPDeviation  *flexFloat `json:"vwap_deviation"`
	Volatility     *flexFloat `json:"volatility"`

	Components map[string]float64 `json:"components"`
	Tags       []string           `json:"tags"`

	BarTime json.RawMessage `json:"bar_time"`
	Time    json.RawMessage `json:"time"`
}

// wrappedPayload is the envelope used by ShapeWrapped senders.
type wrappedPayload struct {
	Alert json.RawMessage `json:"alert"`
}

// resolvedAlert is the payload after alias resolution, shaped for validation.
// The json tags matter: validation errors surface wire field names.
type resolvedAlert struct {
	Ticker    string  `json:"ticker" validate:"required"`
	Direction string  `json:"direction" validate:"required"`
	Timeframe string  `json:"timeframe" validate:"required"`
	Price     float64 `json:"price" validate:"required,gt=0"`
	AIScore   float64 `json:"ai_score" validate:"gte=0,lte=10"`
	Entry     float64 `json:"entry" validate:"gte=0"`
	Stop      float64 `json:"stop" validate:"gte=0"`
	Target    float64 `json:"target" validate:"gte=0"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	// Report wire field names, not Go identifiers, in validation errors.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Normalizer turns raw sender events into canonical Signals. It is stateless
// apart from the per-sender shape registry and safe for concurrent use.
type Normalizer struct {
	shapes map[string]PayloadShape
	log    zerolog.Logger
}

// NewNormalizer creates a normalizer. shapes maps sender ids to their payload
// shape; unlisted senders are assumed flat.
func NewNormalizer(shapes map[string]PayloadShape, log zerolog.Logger) *Normalizer {
	if shapes == nil {
		shapes = map[string]PayloadShape{}
	}
	return &Normalizer{
		shapes: shapes,
		log:    log.With().Str("component", "normalizer").Logger(),
	}
}

// Normalize converts one raw event into a canonical Signal. When the payload
// cannot be resolved it returns a *domain.MalformedSignalError naming the
// offending field. Normalize performs no I/O and never mutates raw.
func (n *Normalizer) Normalize(raw RawEvent) (*Signal, error) {
	body := raw.Payload
	if n.shapeFor(raw.Sender) == ShapeWrapped {
		var wrapped wrappedPayload
		if err := json.Unmarshal(raw.Payload, &wrapped); err != nil {
			return nil, payloadError(err)
		}
		if !present(wrapped.Alert) {
			return nil, &domain.MalformedSignalError{Field: "alert", Reason: "is required"}
		}
		body = wrapped.Alert
	}

	var p alertPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, payloadError(err)
	}

	ticker := strings.ToUpper(pick(p.Ticker, p.Symbol))
	// Some templates include an exchange prefix ("NASDAQ:AAPL").
	if i := strings.LastIndex(ticker, ":"); i >= 0 {
		ticker = ticker[i+1:]
	}

	resolved := resolvedAlert{
		Ticker:    ticker,
		Direction: pick(p.Direction, p.Side),
		Timeframe: pick(p.Timeframe, p.Interval),
		Price:     pickFloat(p.Price),
		AIScore:   pickFloat(p.AIScore, p.Score),
		Entry:     pickFloat(p.Entry),
		Stop:      pickFloat(p.Stop, p.StopLoss),
		Target:    pickFloat(p.Target, p.TakeProfit),
	}
	if err := validate.Struct(resolved); err != nil {
		return nil, malformedFromValidation(err)
	}

	direction, ok := domain.ParseDirection(resolved.Direction)
	if !ok {
		return nil, &domain.MalformedSignalError{
			Field: "direction", Reason: fmt.Sprintf("has unrecognized value %q", resolved.Direction),
		}
	}

	timeframe, ok := domain.ParseTimeframe(resolved.Timeframe)
	if !ok {
		return nil, &domain.MalformedSignalError{
			Field: "timeframe", Reason: fmt.Sprintf("has unrecognized value %q", resolved.Timeframe),
		}
	}

	// Quality is optional and defaults to MEDIUM; an explicit junk value is
	// rejected rather than silently downgraded.
	quality := domain.QualityMedium
	if q := strings.TrimSpace(string(p.Quality)); q != "" {
		quality, ok = domain.ParseQualityTier(q)
		if !ok {
			return nil, &domain.MalformedSignalError{
				Field: "quality", Reason: fmt.Sprintf("has unrecognized value %q", q),
			}
		}
	}

	// Derived fields come from the bar timestamp when the sender provides
	// one, otherwise from the receipt time. Never from payload strings.
	barTime := raw.ReceivedAt
	if present(p.BarTime) || present(p.Time) {
		field, rawTime := "bar_time", p.BarTime
		if !present(rawTime) {
			field, rawTime = "time", p.Time
		}
		ts, err := parseBarTime(rawTime)
		if err != nil {
			return nil, &domain.MalformedSignalError{Field: field, Reason: "is not RFC3339 or a unix epoch"}
		}
		barTime = ts
	}

	coercions := make([]Coercion, 0, 2)

	riskPercent := defaultRiskPercent
	if p.RiskPercent != nil {
		riskPercent = clampPositive("risk_percent", float64(*p.RiskPercent), minRiskPercent, &coercions)
	}

	relVolume := neutralRelativeVolume
	if p.RelativeVolume != nil {
		relVolume = clampPositive("relative_volume", float64(*p.RelativeVolume), neutralRelativeVolume, &coercions)
	}

	trendScore := 0.0
	if p.TrendScore != nil {
		trendScore = clampRange("trend_score", float64(*p.TrendScore), -1, 1, &coercions)
	}

	volatility := 0.0
	if p.Volatility != nil {
		volatility = clampRange("volatility", float64(*p.Volatility), 0, maxVolatility, &coercions)
	}

	entry := resolved.Entry
	if entry == 0 {
		entry = resolved.Price
	}

	rewardRisk := 0.0
	if resolved.Stop > 0 && resolved.Target > 0 {
		if riskDist := math.Abs(entry - resolved.Stop); riskDist > 0 {
			rewardRisk = math.Abs(resolved.Target-entry) / riskDist
		}
	}

	sig := &Signal{
		Source:         raw.Sender,
		Ticker:         resolved.Ticker,
		Direction:      direction,
		Timeframe:      timeframe,
		Quality:        quality,
		AIScore:        resolved.AIScore,
		Price:          resolved.Price,
		Entry:          entry,
		Stop:           resolved.Stop,
		Target:         resolved.Target,
		RiskPercent:    riskPercent,
		RewardRisk:     rewardRisk,
		TrendScore:     trendScore,
		RelativeVolume: relVolume,
		VWAPDeviation:  pickFloat(p.VWAPDeviation),
		Volatility:     volatility,
		Components:     p.Components,
		Tags:           p.Tags,
		BarTime:        barTime,
		ReceivedAt:     raw.ReceivedAt,
		DayOfWeek:      domain.MarketDay(barTime),
		Session:        domain.SessionAt(barTime),
		TimeframeLabel: timeframe.Label(),
		Coercions:      coercions,
	}

	n.log.Debug().
		Str("source", sig.Source).
		Str("ticker", sig.Ticker).
		Str("direction", string(sig.Direction)).
		Str("timeframe", string(sig.Timeframe)).
		Int("coercions", len(sig.Coercions)).
		Msg("Normalized signal")

	return sig, nil
}

func (n *Normalizer) shapeFor(sender string) PayloadShape {
	if shape, ok := n.shapes[sender]; ok {
		return shape
	}
	return ShapeFlat
}

// pick returns the first non-empty alias value.
func pick(vals ...flexString) string {
	for _, v := range vals {
		if s := strings.TrimSpace(string(v)); s != "" {
			return s
		}
	}
	return ""
}

// pickFloat returns the first alias value a sender actually supplied.
func pickFloat(vals ...*flexFloat) float64 {
	for _, v := range vals {
		if v != nil {
			return float64(*v)
		}
	}
	return 0
}

// present reports whether a raw JSON field was supplied with a real value.
func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// clampPositive floors zero or negative values, recording the adjustment.
func clampPositive(field string, v, floor float64, cs *[]Coercion) float64 {
	if v > 0 {
		return v
	}
	*cs = append(*cs, Coercion{Field: field, From: v, To: floor})
	return floor
}

// clampRange confines v to [lo, hi], recording any adjustment.
func clampRange(field string, v, lo, hi float64, cs *[]Coercion) float64 {
	c := math.Max(lo, math.Min(hi, v))
	if c != v {
		*cs = append(*cs, Coercion{Field: field, From: v, To: c})
	}
	return c
}

// parseBarTime accepts RFC3339 strings and unix epochs. Epoch values above
// 1e11 are read as milliseconds, everything else as seconds.
func parseBarTime(raw json.RawMessage) (time.Time, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		str = strings.TrimSpace(str)
		if ts, err := time.Parse(time.RFC3339, str); err == nil {
			return ts, nil
		}
		if epoch, err := strconv.ParseInt(str, 10, 64); err == nil {
			return epochToTime(epoch), nil
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as a timestamp", str)
	}
	var epoch float64
	if err := json.Unmarshal(raw, &epoch); err == nil {
		return epochToTime(int64(epoch)), nil
	}
	return time.Time{}, errors.New("not RFC3339 or a unix epoch")
}

func epochToTime(epoch int64) time.Time {
	if epoch > 1e11 {
		return time.UnixMilli(epoch).UTC()
	}
	return time.Unix(epoch, 0).UTC()
}

// payloadError maps JSON decode failures onto the offending field when the
// decoder can name one.
func payloadError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return &domain.MalformedSignalError{
			Field: typeErr.Field, Reason: fmt.Sprintf("cannot be a JSON %s", typeErr.Value),
		}
	}
	return &domain.MalformedSignalError{Field: "payload", Reason: err.Error()}
}

// malformedFromValidation converts the first validator failure into a
// MalformedSignalError naming the wire field.
func malformedFromValidation(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &domain.MalformedSignalError{Field: fe.Field(), Reason: reasonForTag(fe)}
	}
	return &domain.MalformedSignalError{Field: "payload", Reason: err.Error()}
}

func reasonForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
