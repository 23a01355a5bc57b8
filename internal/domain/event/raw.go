package event

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"usagecache/pkg/errors"
)

// kindWirePrefix prefixes kind values on the filtered-events endpoint
const kindWirePrefix = "USAGE_EVENT_KIND_"

// kindKeys are the recognized nested detail keys on the monthly-invoice
// endpoint, in lookup order
var kindKeys = []string{"toolCallComposer", "composer", "fastApply", "chat", "cmdK"}

// Millis is an epoch-milliseconds timestamp that may arrive as a JSON
// string or number
type Millis int64

func (m *Millis) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// some endpoints serialize timestamps as floats
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return errors.Wrapf(errors.ErrDataShape, "timestamp %q", s)
		}
		v = int64(f)
	}
	*m = Millis(v)
	return nil
}

// FlexAmount is a USD amount that may arrive as a JSON number, a numeric
// string, or the "-" sentinel meaning not applicable (zero)
type FlexAmount struct {
	decimal.Decimal
}

func (a *FlexAmount) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "-" || s == "null" {
		a.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		a.Decimal = decimal.Zero
		return nil
	}
	a.Decimal = d
	return nil
}

// RawTokenUsage mirrors the wire tokenUsage sub-object
type RawTokenUsage struct {
	InputTokens      int64 `json:"inputTokens"`
	OutputTokens     int64 `json:"outputTokens"`
	CacheWriteTokens int64 `json:"cacheWriteTokens"`
	CacheReadTokens  int64 `json:"cacheReadTokens"`
	TotalCents       int64 `json:"totalCents"`
}

// RawKindDetails mirrors the nested details.<kind> object on the
// monthly-invoice endpoint
type RawKindDetails struct {
	ModelIntent                string   `json:"modelIntent"`
	Model                      string   `json:"model"`
	MaxMode                    bool     `json:"maxMode"`
	IsTokenBasedCall           bool     `json:"isTokenBasedCall"`
	OverrideNumRequestsCounted *float64 `json:"overrideNumRequestsCounted"`
}

// Raw is a usage record as returned by either remote endpoint. The
// filtered-events endpoint uses the flat fields; the monthly-invoice
// endpoint carries priceCents plus a details.<kind> nested object.
type Raw struct {
	Timestamp Millis `json:"timestamp"`

	// alternate timestamp field names seen in the wild
	CreatedAt      Millis `json:"createdAt"`
	CreatedAtSnake Millis `json:"created_at"`
	Time           Millis `json:"time"`
	EventTime      Millis `json:"eventTime"`
	Date           Millis `json:"date"`

	Model            string         `json:"model"`
	Kind             string         `json:"kind"`
	RequestsCosts    *float64       `json:"requestsCosts"`
	UsageBasedCosts  FlexAmount     `json:"usageBasedCosts"`
	IsTokenBasedCall bool           `json:"isTokenBasedCall"`
	MaxMode          bool           `json:"maxMode"`
	OwningUser       string         `json:"owningUser"`
	TokenUsage       *RawTokenUsage `json:"tokenUsage"`

	PriceCents *float64                  `json:"priceCents"`
	Details    map[string]RawKindDetails `json:"details"`
}

// timestamp returns the first usable timestamp field, or 0
func (r Raw) timestamp() int64 {
	for _, m := range []Millis{r.Timestamp, r.CreatedAt, r.CreatedAtSnake, r.Time, r.EventTime, r.Date} {
		if m != 0 {
			return int64(m)
		}
	}
	return 0
}

// Normalize maps a raw record from either remote shape to the canonical
// UsageEvent. Performed once at ingestion so nothing downstream ever
// needs to guess field names.
func Normalize(raw Raw) (UsageEvent, error) {
	ts := raw.timestamp()
	if ts == 0 {
		return UsageEvent{}, errors.Wrap(errors.ErrDataShape, "raw event has no timestamp")
	}

	ev := UsageEvent{
		Timestamp:        ts,
		Model:            raw.Model,
		Kind:             kindFromWire(raw.Kind),
		UsageBasedCost:   raw.UsageBasedCosts.Decimal,
		IsTokenBasedCall: raw.IsTokenBasedCall,
		MaxMode:          raw.MaxMode,
		OwningUser:       raw.OwningUser,
	}

	if raw.RequestsCosts != nil {
		ev.RequestsCost = decimal.NewFromFloat(*raw.RequestsCosts)
	}

	if raw.TokenUsage != nil {
		ev.TokenUsage = TokenUsage(*raw.TokenUsage)
	}

	// monthly-invoice shape: identity and flags live under details.<kind>
	if len(raw.Details) > 0 {
		for _, key := range kindKeys {
			details, ok := raw.Details[key]
			if !ok {
				continue
			}
			ev.Kind = key
			if details.ModelIntent != "" {
				ev.Model = details.ModelIntent
			} else if details.Model != "" {
				ev.Model = details.Model
			}
			ev.MaxMode = details.MaxMode
			ev.IsTokenBasedCall = details.IsTokenBasedCall
			if details.OverrideNumRequestsCounted != nil {
				ev.RequestsCost = decimal.NewFromFloat(*details.OverrideNumRequestsCounted)
			} else if raw.PriceCents != nil {
				// four cents per request unit
				ev.RequestsCost = decimal.NewFromFloat(*raw.PriceCents).Div(decimal.NewFromInt(4))
			}
			break
		}
	}

	return ev, nil
}

// NormalizeAll maps a page of raw records, failing on the first bad record
func NormalizeAll(raws []Raw) ([]UsageEvent, error) {
	events := make([]UsageEvent, 0, len(raws))
	for _, raw := range raws {
		ev, err := Normalize(raw)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// kindFromWire strips the filtered-events kind prefix and maps the
// remainder to the canonical camelCase kind names
func kindFromWire(kind string) string {
	if kind == "" {
		return ""
	}
	k := strings.ToLower(strings.TrimPrefix(kind, kindWirePrefix))
	switch k {
	case "composer", "chat":
		return k
	case "tool_call_composer":
		return "toolCallComposer"
	case "cmd_k":
		return "cmdK"
	case "fast_apply":
		return "fastApply"
	default:
		return k
	}
}
